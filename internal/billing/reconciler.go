package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/memberman/internal/model"
	"github.com/hitoshi/memberman/internal/repository"
)

// Notifier はリマインダーメールの配送インターフェース。
type Notifier interface {
	Send(ctx context.Context, recipient, templateID string, templateData map[string]string) error
}

// ReconcilerConfig はReconcilerの設定。
type ReconcilerConfig struct {
	// RenewalReminderTemplateID は期限間近リマインダーのSendGridテンプレートID。
	// 空の場合はリマインダーを送らない。
	RenewalReminderTemplateID string
}

// Reconciler はWebhookイベントをローカルのエンタイトルメント状態に反映する。
//
// 配信はat-least-onceかつ順序保証なしのため、すべての遷移は
// 「ロールをXに設定する」という絶対値の操作で表現し、冪等にする。
// 同一ユーザーへの同時のロール書き込みはlast-write-winsで、
// Stripe側との結果整合性として許容する。
type Reconciler struct {
	userRepo     repository.UserRepository
	productRepo  repository.ProductRepository
	purchaseRepo repository.PurchaseRepository
	notifier     Notifier
	config       ReconcilerConfig
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	purchaseRepo repository.PurchaseRepository,
	notifier Notifier,
	config ReconcilerConfig,
) *Reconciler {
	return &Reconciler{
		userRepo:     userRepo,
		productRepo:  productRepo,
		purchaseRepo: purchaseRepo,
		notifier:     notifier,
		config:       config,
	}
}

// HandleEvent は署名検証済みのイベントを種別に応じて処理する。
//
// ユーザーや商品が解決できないイベントはログに残した上でnilを返す。
// 恒久的に解決不能なイベントをエラーにするとStripeが再送を繰り返すため、
// ここでのエラーはストア障害など再試行に意味がある場合に限る。
func (r *Reconciler) HandleEvent(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionDeleted, EventChargeRefunded:
		// どちらも「エンタイトルメント剥奪」シグナルとして同一に扱う
		return r.handleEntitlementRevoked(ctx, event)
	case EventSubscriptionExpiring:
		return r.handleSubscriptionExpiring(ctx, event)
	default:
		slog.Info("ignoring unhandled webhook event type",
			slog.String("event_id", event.ID),
			slog.String("type", event.Type),
		)
		return nil
	}
}

// handleCheckoutCompleted はチェックアウト完了を反映する。
// 購入履歴を記録し、ロールをproに設定する。
// 重複配信はstripe_event_idのユニーク制約で高々1件に抑えられ、
// ロール設定は絶対値のため何度適用しても同じ終状態になる。
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *Event) error {
	user, err := r.userRepo.FindByCustomerID(ctx, event.Data.Object.Customer)
	if err != nil {
		return fmt.Errorf("failed to resolve user by customer: %w", err)
	}
	if user == nil {
		// ローカルに未連携の顧客参照。エラーにせずログのみ（再送ストーム防止）
		slog.Warn("checkout completed for unknown customer",
			slog.String("event_id", event.ID),
			slog.String("customer", event.Data.Object.Customer),
		)
		return nil
	}

	productID := event.Data.Object.ClientReferenceID
	product, err := r.productRepo.FindByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to resolve product: %w", err)
	}
	if product == nil {
		slog.Warn("checkout completed for unknown product",
			slog.String("event_id", event.ID),
			slog.String("product_id", productID),
		)
		return nil
	}

	created, err := r.purchaseRepo.Create(ctx, &model.Purchase{
		ID:            uuid.New().String(),
		UserID:        user.ID,
		ProductID:     product.ID,
		Amount:        event.Data.Object.AmountTotal,
		StripeEventID: event.ID,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to record purchase: %w", err)
	}
	if !created {
		slog.Info("duplicate checkout event, purchase already recorded",
			slog.String("event_id", event.ID),
		)
	}

	if err := r.userRepo.SetRole(ctx, user.ID, model.RolePro); err != nil {
		return fmt.Errorf("failed to set role to pro: %w", err)
	}

	slog.Info("entitlement granted",
		slog.String("user_id", user.ID),
		slog.String("product_id", product.ID),
		slog.String("event_id", event.ID),
	)
	return nil
}

// handleEntitlementRevoked はサブスクリプション解約・返金を反映し、
// ロールをuserに戻す。
func (r *Reconciler) handleEntitlementRevoked(ctx context.Context, event *Event) error {
	user, err := r.userRepo.FindByCustomerID(ctx, event.Data.Object.Customer)
	if err != nil {
		return fmt.Errorf("failed to resolve user by customer: %w", err)
	}
	if user == nil {
		slog.Warn("entitlement revocation for unknown customer",
			slog.String("event_id", event.ID),
			slog.String("customer", event.Data.Object.Customer),
		)
		return nil
	}

	if err := r.userRepo.SetRole(ctx, user.ID, model.RoleUser); err != nil {
		return fmt.Errorf("failed to set role to user: %w", err)
	}

	slog.Info("entitlement revoked",
		slog.String("user_id", user.ID),
		slog.String("event_id", event.ID),
		slog.String("type", event.Type),
	)
	return nil
}

// handleSubscriptionExpiring は期限間近の通知を受理し、
// 該当ユーザーにリマインダーメールを送る。状態遷移は行わない。
// 配送失敗はログに残すのみで、エラーとして返さない
// （再送されても同じメールがもう1通届くだけで、得るものがない）。
func (r *Reconciler) handleSubscriptionExpiring(ctx context.Context, event *Event) error {
	slog.Info("subscription expiring acknowledged",
		slog.String("event_id", event.ID),
		slog.String("customer", event.Data.Object.Customer),
	)

	if r.notifier == nil || r.config.RenewalReminderTemplateID == "" {
		return nil
	}

	user, err := r.userRepo.FindByCustomerID(ctx, event.Data.Object.Customer)
	if err != nil {
		return fmt.Errorf("failed to resolve user by customer: %w", err)
	}
	if user == nil {
		slog.Warn("subscription expiring for unknown customer",
			slog.String("event_id", event.ID),
			slog.String("customer", event.Data.Object.Customer),
		)
		return nil
	}

	if err := r.notifier.Send(ctx, user.Email, r.config.RenewalReminderTemplateID, nil); err != nil {
		slog.Error("renewal reminder delivery failed",
			slog.String("user_id", user.ID),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
