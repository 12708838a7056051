package discord

import "github.com/bwmarrin/discordgo"

var pickModeChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "sin equipos", Value: "no_teams"},
	{Name: "manual (capitanes)", Value: "manual"},
	{Name: "elo", Value: "elo"},
}

func pickupOptions(nameRequired bool) []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Nombre del pickup", Required: nameRequired},
		{Type: discordgo.ApplicationCommandOptionInteger, Name: "players", Description: "Cantidad de jugadores", MinValue: ptrFloat(2)},
		{Type: discordgo.ApplicationCommandOptionInteger, Name: "teams", Description: "Cantidad de equipos (default 2)", MinValue: ptrFloat(1)},
		{Type: discordgo.ApplicationCommandOptionString, Name: "pick_mode", Description: "Cómo se arman los equipos", Choices: pickModeChoices},
		{Type: discordgo.ApplicationCommandOptionBoolean, Name: "default", Description: "Entra en /add sin nombre"},
		{Type: discordgo.ApplicationCommandOptionBoolean, Name: "afk_check", Description: "Pedir /ready antes de arrancar"},
	}
}

var roleOptions = []*discordgo.ApplicationCommandOption{
	{Type: discordgo.ApplicationCommandOptionRole, Name: "whitelist_role", Description: "Sólo este rol puede anotarse"},
	{Type: discordgo.ApplicationCommandOptionRole, Name: "blacklist_role", Description: "Este rol no puede anotarse"},
	{Type: discordgo.ApplicationCommandOptionRole, Name: "promotion_role", Description: "Rol a mencionar para promocionar"},
	{Type: discordgo.ApplicationCommandOptionRole, Name: "captain_role", Description: "Rol con prioridad para capitán"},
	{Type: discordgo.ApplicationCommandOptionBoolean, Name: "clear_roles", Description: "Quitar todos los roles configurados"},
}

var Commands = []*discordgo.ApplicationCommand{
	{
		Name:        "add",
		Description: "Anotarte en uno o más pickups (sin nombre: los default)",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "pickups", Description: "Nombres separados por espacio"},
		},
	},
	{
		Name:        "remove",
		Description: "Salir de uno o más pickups (sin nombre: de todos)",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "pickups", Description: "Nombres separados por espacio"},
		},
	},
	{Name: "who", Description: "Ver quién está anotado"},
	{
		Name:        "pick",
		Description: "Capitán: elegir un jugador para tu equipo",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionUser, Name: "player", Description: "Jugador a pickear", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "pickup", Description: "Pickup (si tenés turno en más de uno)"},
		},
	},
	{Name: "ready", Description: "Confirmar que estás durante el afk check"},
	{
		Name:        "notify",
		Description: "Recibir un DM cuando arranca tu pickup",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionBoolean, Name: "on", Description: "Activar / desactivar", Required: true},
		},
	},
	{
		Name:        "expire",
		Description: "Salir automáticamente de la cola después de un rato",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "after", Description: "Ej: 30m, 1h30m. 0 desactiva", Required: true},
		},
	},
	{
		Name:        "ao",
		Description: "Allow offline: que el afk check no te marque por un rato",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "for", Description: "Ej: 1h, 2h30m. 0 desactiva", Required: true},
		},
	},
	{
		Name:        "reset",
		Description: "Vaciar un pickup que no arrancó (admins)",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "pickup", Description: "Nombre del pickup", Required: true},
		},
	},
	{
		Name:        "pickup",
		Description: "Configurar pickups (admins)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Crear un pickup",
				Options:     append(pickupOptions(true), roleOptions[:4]...),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Cambiar un pickup (sólo lo que pases)",
				Options:     append(pickupOptions(true), roleOptions...),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Borrar pickups",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "names", Description: "Nombres separados por espacio", Required: true},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list", Description: "Ver los pickups configurados"},
		},
	},
	{
		Name:        "settings",
		Description: "Settings del guild (admins)",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "show", Description: "Ver configuración"},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Actualizar configuración (sólo lo que pases)",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Canal de anuncios"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "start_message", Description: "Template: %pickup %players %teams %captains %#players"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "notify_message", Description: "Template del DM"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "afk_check_after", Description: "Inactividad para pedir /ready (ej: 10m)"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "afk_check_timeout", Description: "Tiempo para confirmar (ej: 2m)"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "picking_timeout", Description: "Tiempo de picking (ej: 5m)"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "reminder_every", Description: "Recordatorios (ej: 30s, 0 = nunca)"},
				},
			},
		},
	},
	{Name: "panel", Description: "Publicar el panel con botones en este canal (admins)"},
}

func ptrFloat(f float64) *float64 { return &f }
