package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/audit-agent/backend/internal/storage/models"
)

var ErrScriptNotFound = errors.New("audit script not found")

// Script is the list of shell commands an audit runs on each device.
//
//	name: Check Switch Ports
//	commands:
//	  - ip link show
//	  - cat /proc/net/dev
type Script struct {
	Name     string   `yaml:"name"`
	Commands []string `yaml:"commands"`
}

// ScriptPath returns where the script for an audit lives. An explicit
// audit_path wins; relative paths are taken from scriptsDir.
func ScriptPath(scriptsDir string, a models.Audit) string {
	p := strings.TrimSpace(a.ScriptPath)
	if p == "" {
		return filepath.Join(scriptsDir, strconv.Itoa(a.ID)+".yaml")
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(scriptsDir, p)
}

func LoadScript(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return nil, fmt.Errorf("failed to read audit script: %w", err)
	}
	return ParseScript(raw)
}

func ParseScript(raw []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse audit script: %w", err)
	}

	cmds := s.Commands[:0]
	for _, c := range s.Commands {
		if c = strings.TrimSpace(c); c != "" {
			cmds = append(cmds, c)
		}
	}
	s.Commands = cmds
	if len(s.Commands) == 0 {
		return nil, errors.New("audit script has no commands")
	}
	return &s, nil
}
