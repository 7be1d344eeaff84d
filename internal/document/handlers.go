// Package document serves PDF reports for sales and dispatches and records
// the ones shared through object storage.
package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/internal/activity"
	"fieldservice/internal/api"
	"fieldservice/internal/dispatch"
	"fieldservice/internal/installation"
	"fieldservice/internal/note"
	"fieldservice/internal/pdfdoc"
	"fieldservice/internal/sale"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
	"fieldservice/pkg/objectstore"
)

const contentType = "application/pdf"

// Uploader is the object storage used for share links.
type Uploader interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key, fileName string) (string, time.Time, error)
}

type Handlers struct {
	DB            *pgxpool.Pool
	Sales         *sale.Repository
	Dispatches    *dispatch.Repository
	Installations *installation.Repository
	Storage       Uploader
	Settings      pdfdoc.Settings
	Logger        *slog.Logger
}

type ShareResponse struct {
	Document  Record    `json:"document"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// composer loads an entity and lays it out.
type composer func(ctx context.Context, id string) (pdfdoc.Document, error)

func (h Handlers) SalePDF(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, h.composeSale)
}

func (h Handlers) DispatchPDF(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, h.composeDispatch)
}

func (h Handlers) SaleShare(w http.ResponseWriter, r *http.Request) {
	h.share(w, r, sale.EntityType, h.composeSale)
}

func (h Handlers) DispatchShare(w http.ResponseWriter, r *http.Request) {
	h.share(w, r, dispatch.EntityType, h.composeDispatch)
}

// List returns the documents exported for one entity type.
func (h Handlers) List(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := api.PathID(w, r, "id")
		if !ok {
			return
		}
		items, err := ListByEntity(r.Context(), h.DB, entityType, id)
		if err != nil {
			api.Internal(w, r, h.Logger, "list documents failed", err)
			return
		}
		if items == nil {
			items = []Record{}
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (h Handlers) download(w http.ResponseWriter, r *http.Request, compose composer) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	doc, body, ok := h.render(w, r, id, compose)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", Disposition(r.URL.Query().Get("disposition"), doc.FileName()))
	w.Header().Set("Content-Length", strconv.Itoa(body.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = body.WriteTo(w)
}

// share uploads the rendered report, records it and returns a presigned link.
func (h Handlers) share(w http.ResponseWriter, r *http.Request, entityType string, compose composer) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	if h.Storage == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "STORAGE_DISABLED", objectstore.ErrDisabled.Error())
		return
	}
	doc, body, ok := h.render(w, r, id, compose)
	if !ok {
		return
	}

	key := ObjectKey(entityType, id)
	size := int64(body.Len())
	if err := h.Storage.Put(r.Context(), key, body, size, contentType); err != nil {
		if errors.Is(err, objectstore.ErrDisabled) {
			api.WriteError(w, http.StatusServiceUnavailable, "STORAGE_DISABLED", err.Error())
			return
		}
		api.Internal(w, r, h.Logger, "upload document failed", err)
		return
	}

	u := api.UserFromContext(r.Context())
	var createdBy *string
	if u != nil {
		createdBy = &u.ID
	}
	var rec *Record
	err := db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		var err error
		rec, err = Insert(r.Context(), tx, Record{
			EntityType: entityType,
			EntityID:   id,
			Kind:       KindReport,
			ObjectKey:  key,
			FileName:   doc.FileName(),
			SizeBytes:  size,
			CreatedBy:  createdBy,
		})
		if err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, entityType, id, activity.EventDocumentExported,
			doc.FileName()+" shared", u.DisplayName(),
			map[string]any{"documentId": rec.ID, "sizeBytes": size})
	})
	if err != nil {
		api.Internal(w, r, h.Logger, "record document failed", err)
		return
	}

	url, expires, err := h.Storage.PresignGet(r.Context(), key, doc.FileName())
	if err != nil {
		api.Internal(w, r, h.Logger, "presign document failed", err)
		return
	}

	h.logger().InfoContext(r.Context(), "document shared",
		log.Entity(entityType, id), slog.String("object_key", key), slog.Int64("size", size))
	api.WriteJSON(w, http.StatusCreated, ShareResponse{Document: *rec, URL: url, ExpiresAt: expires})
}

// render writes the error response itself and reports false when it fails.
func (h Handlers) render(w http.ResponseWriter, r *http.Request, id string, compose composer) (pdfdoc.Document, *bytes.Buffer, bool) {
	doc, err := compose(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found")
			return pdfdoc.Document{}, nil, false
		}
		api.Internal(w, r, h.Logger, "compose document failed", err)
		return pdfdoc.Document{}, nil, false
	}
	var buf bytes.Buffer
	if err := pdfdoc.Render(&buf, doc); err != nil {
		api.Internal(w, r, h.Logger, "render document failed", err)
		return pdfdoc.Document{}, nil, false
	}
	return doc, &buf, true
}

func (h Handlers) composeSale(ctx context.Context, id string) (pdfdoc.Document, error) {
	s, err := h.Sales.Get(ctx, id)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	var ids []string
	for _, it := range s.Items {
		if it.InstallationID != nil {
			ids = append(ids, *it.InstallationID)
		}
	}
	installations, err := h.Installations.ByIDs(ctx, ids)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	notes, err := note.ListByEntity(ctx, h.DB, sale.EntityType, id)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	return pdfdoc.ComposeSale(*s, installations, notes, h.Settings)
}

func (h Handlers) composeDispatch(ctx context.Context, id string) (pdfdoc.Document, error) {
	d, err := h.Dispatches.Get(ctx, id)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	entries, err := dispatch.ListTimeEntries(ctx, h.DB, id)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	expenses, err := dispatch.ListExpenses(ctx, h.DB, id)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	var ids []string
	if d.InstallationID != nil {
		ids = append(ids, *d.InstallationID)
	}
	installations, err := h.Installations.ByIDs(ctx, ids)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	notes, err := note.ListByEntity(ctx, h.DB, dispatch.EntityType, id)
	if err != nil {
		return pdfdoc.Document{}, err
	}
	return pdfdoc.ComposeDispatch(*d, entries, expenses, installations, notes, h.Settings)
}

// Disposition builds the Content-Disposition header. "inline" opens the PDF
// in the browser for printing; anything else downloads it.
func Disposition(mode, fileName string) string {
	kind := "attachment"
	if mode == "inline" {
		kind = "inline"
	}
	return mime.FormatMediaType(kind, map[string]string{"filename": fileName})
}

// ObjectKey is where a shared report is stored. Every share gets a new key.
func ObjectKey(entityType, entityID string) string {
	return entityType + "/" + entityID + "/" + uuid.NewString() + ".pdf"
}

func (h Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
