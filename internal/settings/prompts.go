package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/ticketworker/internal/errs"
)

// Role is a prompt directory filename stem (spec §6, "<role>.txt").
type Role string

const (
	RolePlanning       Role = "planning"
	RoleDeveloper      Role = "developer"
	RoleSubagent       Role = "subagent"
	RoleCompaction     Role = "compaction"
	RoleQualityAssure  Role = "qualityassurance"
)

// requiredRoles are asserted present at supervisor startup (spec §4.1 step
// 1). This repo resolved the QA open question toward a dedicated
// "qualityassurance" prompt key rather than reusing planning (DESIGN.md).
var requiredRoles = []Role{RolePlanning, RoleDeveloper, RoleSubagent, RoleCompaction, RoleQualityAssure}

// Prompts holds the loaded template text for every role.
type Prompts struct {
	byRole map[Role]string
}

// LoadPrompts reads "<role>.txt" for every required role from dir, failing
// with a ConfigError if any required file is absent.
func LoadPrompts(dir string) (*Prompts, error) {
	byRole := make(map[Role]string, len(requiredRoles))
	for _, role := range requiredRoles {
		path := filepath.Join(dir, string(role)+".txt")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.NewConfigError(fmt.Sprintf("required prompt file missing: %s", path), err)
		}
		byRole[role] = string(data)
	}
	return &Prompts{byRole: byRole}, nil
}

// SubstitutionVars are the placeholder values applied to a prompt's raw text
// at orchestrator start (spec §4.1 step 1, §6).
type SubstitutionVars struct {
	RepoDir     string
	CurrentDate time.Time
	TicketID    string
}

// Render returns role's template with {repoDir}, {currentDate}, {ticketId}
// substituted.
func (p *Prompts) Render(role Role, vars SubstitutionVars) (string, error) {
	raw, ok := p.byRole[role]
	if !ok {
		return "", errs.NewConfigError(fmt.Sprintf("no prompt loaded for role %q", role), nil)
	}
	replacer := strings.NewReplacer(
		"{repoDir}", vars.RepoDir,
		"{currentDate}", vars.CurrentDate.Format("2006-01-02"),
		"{ticketId}", vars.TicketID,
	)
	return replacer.Replace(raw), nil
}
