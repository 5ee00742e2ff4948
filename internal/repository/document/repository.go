package document

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudspoint/washcore/internal/database"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var repoTracer = otel.Tracer("github.com/sudspoint/washcore/repository/document")

// ErrNotFound is returned when a document is missing.
var ErrNotFound = errors.New("document not found")

// Repository owns documents and their sequence counters.
type Repository struct {
	conns *database.Connections
}

// NewRepository wires a repository backed by configured connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{conns: conns}
}

// GetByOrder fetches the document issued for an order, if any.
func (r *Repository) GetByOrder(ctx context.Context, orderID int64) (*entity.Document, error) {
	ctx, span := repoTracer.Start(ctx, "DocumentRepository.GetByOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	doc := new(entity.Document)
	err := r.conns.Reader.NewSelect().Model(doc).Where("order_id = ?", orderID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return doc, nil
}

// Allocate atomically hands out the next unused number for the triple. The
// counter row is created on first use and locked for the read-increment-write
// so two concurrent callers can never observe the same value.
func (r *Repository) Allocate(ctx context.Context, branchID int64, docType entity.DocumentType, posID int64) (int64, error) {
	ctx, span := repoTracer.Start(ctx, "DocumentRepository.Allocate", counterAttrs(branchID, docType, posID))
	defer span.End()

	var number int64
	err := r.conns.RunInLockedTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		n, err := allocateLocked(ctx, tx, branchID, docType, posID)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	if err != nil {
		if database.IsContention(err) {
			return 0, errorbank.Busy("sequence counter is locked", errorbank.WithCause(err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocate failed")
		return 0, err
	}
	return number, nil
}

// Issue creates the document for an order, allocating its number in the
// same transaction. The counter lock serializes issuance for the triple; if
// another issuer won the race for this order, the winner's document is
// returned with created=false and no number is burned.
func (r *Repository) Issue(ctx context.Context, orderID int64, branchID int64, docType entity.DocumentType, posID int64, build func(number int64) (*entity.Document, error)) (*entity.Document, bool, error) {
	ctx, span := repoTracer.Start(ctx, "DocumentRepository.Issue", counterAttrs(branchID, docType, posID))
	defer span.End()

	var (
		doc     *entity.Document
		created bool
	)
	err := r.conns.RunInLockedTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		// Lock the counter first: it serializes issuance per triple, so the
		// existence check below cannot race another issuer of this order.
		number, err := allocateLocked(ctx, tx, branchID, docType, posID)
		if err != nil {
			return err
		}

		existing := new(entity.Document)
		err = tx.NewSelect().Model(existing).Where("order_id = ?", orderID).Scan(ctx)
		if err == nil {
			// Already issued; roll back so the allocated number is not burned.
			doc, created = existing, false
			return errAlreadyIssued
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		fresh, err := build(number)
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(fresh).Exec(ctx); err != nil {
			return err
		}
		doc, created = fresh, true
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyIssued) {
			return doc, false, nil
		}
		if database.IsContention(err) {
			return nil, false, errorbank.Busy("sequence counter is locked", errorbank.WithCause(err))
		}
		if database.IsUniqueViolation(err) {
			// Backstop: the unique order_id constraint fired anyway. Re-read
			// outside the aborted transaction.
			if existing, getErr := r.GetByOrder(ctx, orderID); getErr == nil {
				return existing, false, nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue failed")
		return nil, false, err
	}
	return doc, created, nil
}

// errAlreadyIssued aborts the issuing transaction so the counter increment
// rolls back together with it.
var errAlreadyIssued = errors.New("document already issued")

func allocateLocked(ctx context.Context, tx bun.Tx, branchID int64, docType entity.DocumentType, posID int64) (int64, error) {
	seed := &entity.SequenceCounter{
		BranchID:      branchID,
		DocType:       docType,
		PointOfSaleID: posID,
		NextNumber:    1,
	}
	if _, err := tx.NewInsert().Model(seed).
		On("CONFLICT (branch_id, doc_type, point_of_sale_id) DO NOTHING").
		Exec(ctx); err != nil {
		return 0, err
	}

	counter := new(entity.SequenceCounter)
	if err := tx.NewSelect().Model(counter).
		Where("branch_id = ?", branchID).
		Where("doc_type = ?", docType).
		Where("point_of_sale_id = ?", posID).
		For("UPDATE").
		Scan(ctx); err != nil {
		return 0, err
	}

	number := counter.NextNumber
	counter.NextNumber++
	counter.UpdatedAt = time.Now().UTC()
	if _, err := tx.NewUpdate().Model(counter).
		Column("next_number", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return 0, err
	}
	return number, nil
}

func counterAttrs(branchID int64, docType entity.DocumentType, posID int64) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.Int64("sequence.branch_id", branchID),
		attribute.String("sequence.doc_type", string(docType)),
		attribute.Int64("sequence.point_of_sale_id", posID),
	)
}
