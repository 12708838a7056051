package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// requireAdminOrRoles: dueño del guild, bit de Administrator o alguno de
// ADMIN_ROLE_IDS. Si no, contesta y devuelve false.
func (r *Router) requireAdminOrRoles(s *discordgo.Session, ic *discordgo.InteractionCreate) bool {
	if ic.Member == nil || ic.Member.User == nil {
		return false
	}

	// Owner
	if g, _ := s.State.Guild(ic.GuildID); g != nil && ic.Member.User.ID == g.OwnerID {
		return true
	}

	// Administrator bit: el interaction ya trae los permisos resueltos
	if ic.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}

	if isAdminMember(ic.Member.Roles, r.adminRoleIDs) {
		return true
	}

	ReplyEphemeral(s, ic, "🔒 No tienes permisos para esta acción.")
	return false
}

// isAdminMember: roles explícitos del bot
func isAdminMember(memberRoles, adminRoleIDs []string) bool {
	for _, want := range adminRoleIDs {
		if slices.Contains(memberRoles, want) {
			return true
		}
	}
	return false
}
