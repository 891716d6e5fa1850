package antinuke

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	similarNameMinRepeats = 3
	escalationMinSteps    = 3
	adminGrantMinRoles    = 2
)

const dangerousPermissions = discordgo.PermissionAdministrator |
	discordgo.PermissionManageServer |
	discordgo.PermissionManageRoles |
	discordgo.PermissionManageChannels |
	discordgo.PermissionManageWebhooks |
	discordgo.PermissionBanMembers |
	discordgo.PermissionKickMembers |
	discordgo.PermissionMentionEveryone

// DetectRolePatterns inspects role-create records (most recent first) for
// raid shapes that do not depend on the raw count.
func DetectRolePatterns(records []ActionRecord) (bool, string) {
	if len(records) == 0 {
		return false, ""
	}
	if base, count := similarNames(records); count >= similarNameMinRepeats {
		return true, fmt.Sprintf("pattern: %d roles created with near-identical names (%q)", count, base)
	}
	if steps := escalatingScope(records); steps >= escalationMinSteps {
		return true, fmt.Sprintf("pattern: %d roles created with escalating permissions", steps)
	}
	if count := adminGrants(records); count >= adminGrantMinRoles {
		return true, fmt.Sprintf("pattern: %d roles created with administrator permission", count)
	}
	return false, ""
}

func NameBase(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	base := strings.TrimRightFunc(lower, func(r rune) bool {
		return (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '#' || r == '.' || r == ' '
	})
	if base == "" {
		return lower
	}
	return base
}

func similarNames(records []ActionRecord) (string, int) {
	counts := make(map[string]int, len(records))
	best := ""
	bestCount := 0
	for _, record := range records {
		name := record.MetaString(MetaTargetName)
		if name == "" {
			continue
		}
		base := NameBase(name)
		counts[base]++
		if counts[base] > bestCount {
			best = base
			bestCount = counts[base]
		}
	}
	return best, bestCount
}

func escalatingScope(records []ActionRecord) int {
	latest, ok := recordPermissions(records[0])
	if !ok || latest&dangerousPermissions == 0 {
		return 0
	}
	steps := 1
	previous := bits.OnesCount64(uint64(latest))
	for _, record := range records[1:] {
		perms, ok := recordPermissions(record)
		if !ok {
			break
		}
		size := bits.OnesCount64(uint64(perms))
		if size >= previous {
			break
		}
		steps++
		previous = size
	}
	return steps
}

func adminGrants(records []ActionRecord) int {
	count := 0
	for _, record := range records {
		perms, ok := recordPermissions(record)
		if ok && perms&discordgo.PermissionAdministrator != 0 {
			count++
		}
	}
	return count
}

func recordPermissions(record ActionRecord) (int64, bool) {
	raw := record.MetaString(MetaPermissions)
	if raw == "" {
		return 0, false
	}
	perms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return perms, true
}
