package store

import (
	"context"

	"rule_trader/internal/models"
	"rule_trader/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type Notifications struct {
	db db.TxManager
}

func NewNotifications(tx db.TxManager) *Notifications {
	return &Notifications{db: tx}
}

func (s *Notifications) Create(ctx context.Context, n *models.Notification) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Notifications.Create")
		}
	}()
	if n.Status == "" {
		n.Status = models.NotificationSent
	}
	return s.db.Conn(ctx).QueryRow(ctx, `
		insert into notifications (event_id, user_id, item_type, item_id, message, status)
		values ($1, $2, $3, $4, $5, $6)
		returning id, created_at`,
		n.EventID, n.UserID, n.ItemType, n.ItemID, n.Message, string(n.Status),
	).Scan(&n.ID, &n.CreatedAt)
}

type APIConfigurations struct {
	db db.TxManager
}

func NewAPIConfigurations(tx db.TxManager) *APIConfigurations {
	return &APIConfigurations{db: tx}
}

const apiConfigColumns = `id, user_id, api_name, api_key, api_secret, access_token`

func (s *APIConfigurations) Get(ctx context.Context, userID, id int64) (c *models.APIConfiguration, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "APIConfigurations.Get")
		}
	}()
	return s.one(ctx, `user_id = $1 and id = $2`, userID, id)
}

// LatestFor возвращает последнюю конфигурацию пользователя для указанного брокера.
func (s *APIConfigurations) LatestFor(ctx context.Context, userID int64, apiName string) (c *models.APIConfiguration, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "APIConfigurations.LatestFor")
		}
	}()
	return s.one(ctx, `user_id = $1 and api_name = $2 order by id desc limit 1`, userID, apiName)
}

func (s *APIConfigurations) one(ctx context.Context, where string, args ...any) (*models.APIConfiguration, error) {
	var c models.APIConfiguration
	err := s.db.Conn(ctx).QueryRow(ctx, `select `+apiConfigColumns+` from api_configurations where `+where, args...).
		Scan(&c.ID, &c.UserID, &c.APIName, &c.APIKey, &c.APISecret, &c.AccessToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
