package notifications

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/config"
	"github.com/classml-io/classml-engine/pkg/logging"
	"github.com/classml-io/classml-engine/pkg/repositories"
)

// Event is an operational alert raised by the training orchestrator.
type Event struct {
	Title   string
	Message string

	// ClassID, when set, is checked against the disruptive-tenants list
	// before the alert is sent.
	ClassID string
}

// Notifier delivers operational alerts to the configured sink. Delivery is
// fire-and-forget: failures are logged, never returned to the caller, so a
// broken notification channel cannot affect training outcomes.
type Notifier interface {
	Notify(event Event)
}

const (
	suppressionCacheTTL   = 10 * time.Minute
	suppressionSweep      = 20 * time.Minute
	notifySendTimeout     = 10 * time.Second
	suppressionCheckLimit = 5 * time.Second
)

type shoutrrrNotifier struct {
	sender  *router.ServiceRouter
	channel string
	tenants repositories.TenantRepository

	// caches disruptive-tenant lookups so a noisy class does not
	// hit the database on every failed training attempt
	suppressed *cache.Cache
	logger     *zap.Logger
}

var _ Notifier = (*shoutrrrNotifier)(nil)

// NewNotifier builds a Notifier from config. When no notification URL is
// configured it returns a no-op implementation.
func NewNotifier(cfg config.NotificationsConfig, tenants repositories.TenantRepository, logger *zap.Logger) (Notifier, error) {
	if !cfg.Enabled() {
		logger.Info("Notifications disabled, alerts will only be logged")
		return &noopNotifier{logger: logger.Named("notifications")}, nil
	}

	sender, err := shoutrrr.CreateSender(cfg.NotifyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification sender: %w", err)
	}
	sender.Timeout = notifySendTimeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &shoutrrrNotifier{
		sender:     sender,
		channel:    cfg.Channel,
		tenants:    tenants,
		suppressed: cache.New(suppressionCacheTTL, suppressionSweep),
		logger:     logger.Named("notifications"),
	}, nil
}

func (n *shoutrrrNotifier) Notify(event Event) {
	go n.deliver(event)
}

func (n *shoutrrrNotifier) deliver(event Event) {
	if event.ClassID != "" && n.isSuppressed(event.ClassID) {
		n.logger.Debug("Alert suppressed for disruptive tenant",
			zap.String("class_id", event.ClassID),
			zap.String("title", event.Title))
		return
	}

	params := stypes.Params{}
	params.SetTitle(fmt.Sprintf("[%s] %s", n.channel, event.Title))

	body := logging.SanitizeString(event.Message)
	if errs := n.sender.Send(body, &params); len(errs) > 0 {
		for _, err := range errs {
			if err != nil {
				n.logger.Warn("Failed to deliver notification",
					zap.String("title", event.Title),
					zap.String("error", logging.SanitizeError(err)))
				return
			}
		}
	}
}

func (n *shoutrrrNotifier) isSuppressed(classID string) bool {
	if cached, found := n.suppressed.Get(classID); found {
		return cached.(bool)
	}

	ctx, cancel := context.WithTimeout(context.Background(), suppressionCheckLimit)
	defer cancel()

	disruptive, err := n.tenants.IsDisruptiveTenant(ctx, classID)
	if err != nil {
		n.logger.Warn("Failed to check disruptive tenant list, sending alert anyway",
			zap.String("class_id", classID),
			zap.Error(err))
		return false
	}
	n.suppressed.Set(classID, disruptive, cache.DefaultExpiration)
	return disruptive
}

// noopNotifier logs alerts locally when no delivery sink is configured.
type noopNotifier struct {
	logger *zap.Logger
}

var _ Notifier = (*noopNotifier)(nil)

func (n *noopNotifier) Notify(event Event) {
	n.logger.Info("Operational alert",
		zap.String("title", event.Title),
		zap.String("message", logging.SanitizeString(event.Message)),
		zap.String("class_id", event.ClassID))
}
