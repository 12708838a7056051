package domain

// Rotación de turnos de capitán para el picking manual. Todo es función pura
// del snapshot de state_teams: si el proceso se cae, el próximo turno se
// vuelve a derivar de la DB.

// TeamLabels devuelve las etiquetas fijas en orden de turno: A, B, C...
func TeamLabels(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, teamLabel(i))
	}
	return out
}

func teamLabel(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return teamLabel(i/26-1) + teamLabel(i%26)
}

func TeamSize(playerCount, teamCount int) int {
	if teamCount <= 0 {
		return 0
	}
	return playerCount / teamCount
}

func teamOrdinal(labels []string, team string) int {
	for i, l := range labels {
		if l == team {
			return i
		}
	}
	return -1
}

// NextCaptainTurn decide qué equipo pickea después de current ("" = arranque).
// Round-robin por ordinal, salteando equipos con roster completo y capitán
// decidido. Devuelve false cuando ya no queda nada por pickear.
func NextCaptainTurn(teamCount, size int, rows []TeamAssignment, current string) (string, bool) {
	labels := TeamLabels(teamCount)
	members := make(map[string]int, teamCount)
	hasCaptain := make(map[string]bool, teamCount)
	for _, r := range rows {
		if r.Team == "" {
			continue
		}
		members[r.Team]++
		if r.IsCaptain {
			hasCaptain[r.Team] = true
		}
	}

	start := 0
	if i := teamOrdinal(labels, current); i >= 0 {
		start = i + 1
	}
	for k := 0; k < teamCount; k++ {
		l := labels[(start+k)%teamCount]
		if !hasCaptain[l] || members[l] < size {
			return l, true
		}
	}
	return "", false
}

// CurrentTurn devuelve el equipo con captain_turn activo.
func CurrentTurn(rows []TeamAssignment) (string, bool) {
	for _, r := range rows {
		if r.CaptainTurn {
			return r.Team, true
		}
	}
	return "", false
}

// OpenTeams: equipos que todavía tienen lugar, en orden de turno.
func OpenTeams(teamCount, size int, rows []TeamAssignment) []string {
	members := make(map[string]int, teamCount)
	for _, r := range rows {
		members[r.Team]++
	}
	var out []string
	for _, l := range TeamLabels(teamCount) {
		if members[l] < size {
			out = append(out, l)
		}
	}
	return out
}

// ResolveTeams arma los rosters a partir de las filas, en orden de etiqueta.
// El capitán va primero en su roster.
func ResolveTeams(teamCount int, rows []TeamAssignment) []Team {
	labels := TeamLabels(teamCount)
	teams := make([]Team, len(labels))
	for i, l := range labels {
		teams[i].Label = l
	}
	for _, r := range rows {
		i := teamOrdinal(labels, r.Team)
		if i < 0 {
			continue
		}
		if r.IsCaptain {
			teams[i].Captain = Some(r.PlayerID)
			teams[i].Players = append([]string{r.PlayerID}, teams[i].Players...)
			continue
		}
		teams[i].Players = append(teams[i].Players, r.PlayerID)
	}
	return teams
}
