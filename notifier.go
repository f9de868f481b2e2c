package tmrequest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
)

// Message is a rendered notification.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTMLBody string
}

// Notifier tells the configured administrator that a user became a training
// manager. Delivery failures are logged and never returned to the caller.
type Notifier struct {
	directory Directory
	settings  SettingsProvider
	sender    Sender
	logger    *slog.Logger
}

// NewNotifier creates a Notifier. Only WithLogger is honored from opts.
func NewNotifier(directory Directory, settings SettingsProvider, sender Sender, opts ...Option) *Notifier {
	o := newOptions(opts)
	return &Notifier{
		directory: directory,
		settings:  settings,
		sender:    sender,
		logger:    o.logger,
	}
}

// NotifyAssignment sends the notification for userID.
// Nothing is sent when no administrator is configured or the administrator
// account does not exist.
func (n *Notifier) NotifyAssignment(ctx context.Context, userID string) {
	sent, err := n.notify(ctx, userID)
	if err != nil {
		n.logger.WarnContext(ctx, "failed to send training manager notification",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return
	}
	if sent {
		n.logger.InfoContext(ctx, "sent training manager notification", slog.String("user_id", userID))
	}
}

func (n *Notifier) notify(ctx context.Context, userID string) (bool, error) {
	s, err := n.settings.Settings(ctx)
	if err != nil {
		return false, settingsError(err)
	}
	s = s.WithDefaults()
	if s.AdminUsername == "" {
		return false, nil
	}

	admin, err := n.directory.UserByUsername(ctx, s.AdminUsername)
	if errors.Is(err, ErrUserNotFound) {
		n.logger.DebugContext(ctx, "notification admin not found", slog.String("username", s.AdminUsername))
		return false, nil
	}
	if err != nil {
		return false, directoryError(err, "", "looking up notification admin")
	}

	user, err := n.directory.User(ctx, userID)
	if err != nil {
		return false, directoryError(err, userID, "looking up user")
	}

	values := NotificationValues(user, s)
	msg := Message{
		From:     user.Email,
		FromName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		To:       admin.Email,
		Subject:  s.NotificationSubject,
		HTMLBody: RenderTemplate(s.NotificationBody, values),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return false, NewError(ErrNotification, "sending message").WithCause(err).WithUser(userID)
	}
	return true, nil
}

// NotificationValues returns the template values for a user: the core fields,
// one profile_field_<name> per attribute, and solutionid (or the configured
// placeholder when the user has none).
func NotificationValues(u *User, s Settings) map[string]string {
	values := map[string]string{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"firstname": u.FirstName,
		"lastname":  u.LastName,
	}
	for field, value := range u.Attributes {
		values["profile_field_"+field] = value
	}
	if id := u.Attributes[s.SolutionField]; id != "" {
		values["solutionid"] = id
	} else {
		values["solutionid"] = s.MissingSolutionID
	}
	return values
}

// RenderTemplate replaces every %%name%% token with values[name].
// Unknown tokens are left untouched.
func RenderTemplate(tmpl string, values map[string]string) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		pairs = append(pairs, "%%"+name+"%%", values[name])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
