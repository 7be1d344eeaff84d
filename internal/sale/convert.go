package sale

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"fieldservice/internal/activity"
	"fieldservice/internal/realtime"
	"fieldservice/internal/serviceorder"
	"fieldservice/internal/transition"
	"fieldservice/internal/user"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

// ConversionWorkflowID is the realtime channel conversion progress is
// published on.
const ConversionWorkflowID = "sale-conversion"

// StatusInProgress is where a sale moves once converted, when eligible.
const StatusInProgress workflow.Status = "in_progress"

var (
	ErrNoServiceItems   = errors.New("sale has no service items")
	ErrAlreadyConverted = errors.New("sale already converted")
)

// Plan is what a conversion will create.
type Plan struct {
	SaleID       string
	CustomerName string
	Items        []serviceorder.Item
}

// PlanConversion selects the service lines of s. Article lines stay on the
// sale.
func PlanConversion(s Sale) (Plan, error) {
	if s.Converted() {
		return Plan{}, ErrAlreadyConverted
	}
	lines := s.ServiceItems()
	if len(lines) == 0 {
		return Plan{}, ErrNoServiceItems
	}
	p := Plan{SaleID: s.ID, CustomerName: s.CustomerName}
	for i, it := range lines {
		saleItemID := it.ID
		p.Items = append(p.Items, serviceorder.Item{
			SaleItemID:     &saleItemID,
			Position:       i + 1,
			Description:    it.Description,
			InstallationID: it.InstallationID,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
		})
	}
	return p, nil
}

type Conversion struct {
	SaleID         string          `json:"saleId"`
	ServiceOrderID string          `json:"serviceOrderId"`
	Reference      string          `json:"reference"`
	Items          int             `json:"items"`
	SaleStatus     workflow.Status `json:"saleStatus"`
	StatusChanged  bool            `json:"statusChanged"`
}

type Converter struct {
	DB       db.TxStarter
	Workflow *workflow.Definition
	Hub      *realtime.Hub
	Logger   *slog.Logger
}

// Convert turns a sale's service lines into a service order in one
// transaction, reporting each step on the realtime hub.
func (c Converter) Convert(ctx context.Context, saleID string, actor *user.User) (Conversion, error) {
	exec := c.Hub.Start(ConversionWorkflowID, map[string]any{"saleId": saleID})
	reported := false
	step := func(node string, fn func() error) error {
		err := exec.Node(node, fn)
		if err != nil {
			reported = true
		}
		return err
	}

	var createdBy *string
	if actor != nil {
		createdBy = &actor.ID
	}
	name := actor.DisplayName()

	var out Conversion
	var moved *transition.Result
	err := db.WithTx(ctx, c.DB, func(tx pgx.Tx) error {
		var s *Sale
		var plan Plan
		if err := step("load_sale", func() error {
			var err error
			s, err = GetForUpdate(ctx, tx, saleID)
			if err != nil {
				return err
			}
			plan, err = PlanConversion(*s)
			return err
		}); err != nil {
			return err
		}

		var order *serviceorder.ServiceOrder
		if err := step("create_service_order", func() error {
			var err error
			order, err = serviceorder.Insert(ctx, tx, s.ID, plan.CustomerName, createdBy)
			if err != nil {
				return err
			}
			for _, it := range plan.Items {
				it.ServiceOrderID = order.ID
				if err := serviceorder.InsertItem(ctx, tx, it); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}

		if err := step("link_sale", func() error {
			if err := MarkConverted(ctx, tx, s.ID, order.ID); err != nil {
				return err
			}
			if err := activity.Insert(ctx, tx, EntityType, s.ID, activity.EventConverted,
				"Converted to service order "+order.Reference, name,
				map[string]any{"serviceOrderId": order.ID, "items": len(plan.Items)}); err != nil {
				return err
			}
			return activity.Insert(ctx, tx, serviceorder.EntityType, order.ID, activity.EventCreated,
				"Created from sale "+s.Reference, name, map[string]any{"saleId": s.ID})
		}); err != nil {
			return err
		}

		out = Conversion{
			SaleID:         s.ID,
			ServiceOrderID: order.ID,
			Reference:      order.Reference,
			Items:          len(plan.Items),
			SaleStatus:     c.Workflow.Locate(string(s.Status)).Status,
		}

		return step("advance_status", func() error {
			if !c.Workflow.CanTransition(string(s.Status), string(StatusInProgress)) {
				return nil
			}
			res, err := transition.Apply(ctx, tx, c.Workflow, Target, s.ID, string(StatusInProgress), name)
			if err != nil {
				return err
			}
			moved = &res
			out.SaleStatus = res.To
			out.StatusChanged = true
			return nil
		})
	})
	if err != nil {
		if !reported {
			exec.Fail(err)
		}
		return Conversion{}, err
	}

	exec.Complete(out)
	if moved != nil {
		c.Hub.Publish(realtime.Event{
			Type:       realtime.StatusChanged,
			WorkflowID: transition.WorkflowID(EntityType),
			Message:    string(moved.To),
			Data:       moved,
		})
	}
	if c.Logger != nil {
		c.Logger.InfoContext(ctx, "sale converted",
			log.Entity(EntityType, saleID), slog.String("service_order_id", out.ServiceOrderID))
	}
	return out, nil
}
