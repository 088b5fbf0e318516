package offline

import (
	"encoding/json"
	"log/slog"
)

// Default notification content when a push payload is empty or unreadable.
const (
	defaultNotifyTitle = "Tutor ICT"
	defaultNotifyBody  = "Nueva actualización disponible"
)

// NotifyAction is a button attached to a notification.
type NotifyAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Every notification carries the same two actions.
var standardActions = []NotifyAction{
	{Action: "open", Title: "Abrir"},
	{Action: "dismiss", Title: "Cerrar"},
}

// Notification is a user-facing message the host environment can display.
type Notification struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Tag     string         `json:"tag,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Actions []NotifyAction `json:"actions"`
}

// Notifier displays notifications. The host environment supplies an
// implementation; the server falls back to LogNotifier.
type Notifier interface {
	Notify(n Notification) error
}

// LogNotifier writes notifications to the log instead of displaying them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "title", n.Title, "body", n.Body, "tag", n.Tag)
	return nil
}

// pushPayload is the shape of an incoming push message body.
type pushPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Tag   string         `json:"tag"`
	Data  map[string]any `json:"data"`
}

// ParsePush converts a raw push payload into a Notification, filling defaults
// for anything the payload leaves out. A malformed payload yields the default
// notification rather than an error.
func ParsePush(payload []byte) Notification {
	n := Notification{
		Title:   defaultNotifyTitle,
		Body:    defaultNotifyBody,
		Actions: standardActions,
	}
	if len(payload) == 0 {
		return n
	}
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return n
	}
	if p.Title != "" {
		n.Title = p.Title
	}
	if p.Body != "" {
		n.Body = p.Body
	}
	n.Tag = p.Tag
	n.Data = p.Data
	return n
}

// NotifyConnectivity wires connectivity transitions to user notifications:
// going offline announces that cached content remains available.
func NotifyConnectivity(hub *Hub, notifier Notifier, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	hub.Subscribe(func(online bool) {
		if online {
			return
		}
		n := Notification{
			Title:   defaultNotifyTitle,
			Body:    "Sin conexión. El contenido guardado sigue disponible.",
			Tag:     "connectivity",
			Actions: standardActions,
		}
		if err := notifier.Notify(n); err != nil {
			logger.Warn("notification failed", "error", err)
		}
	})
}
