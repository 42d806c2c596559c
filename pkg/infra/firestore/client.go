package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

const (
	collectionRuns       = "runs"
	collectionArtifacts  = "artifacts"
	collectionDeliveries = "deliveries"
)

// Client is a Firestore backed RunRepository. Runs and artifacts are
// stored as separate documents; webhook deliveries get a marker document
// created in the same transaction as the run, which is what makes
// redelivered webhooks idempotent.
type Client struct {
	db *firestore.Client
}

// New creates a Firestore client for the given project. databaseID may be
// empty for the default database.
func New(ctx context.Context, projectID, databaseID string) (*Client, error) {
	var db *firestore.Client
	var err error
	if databaseID == "" {
		db, err = firestore.NewClient(ctx, projectID)
	} else {
		db, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}
	return &Client{db: db}, nil
}

// Close releases the underlying Firestore client.
func (c *Client) Close() error {
	return c.db.Close()
}

type deliveryDoc struct {
	RunID     string
	CreatedAt time.Time
}

// CreateRun stores a new run. The delivery marker and the run document
// are created in one transaction, so a redelivered webhook fails with a
// conflict before a second run appears.
func (c *Client) CreateRun(ctx context.Context, run *model.Run) error {
	runRef := c.db.Collection(collectionRuns).Doc(run.ID.String())

	err := c.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if run.DeliveryID != "" {
			deliveryRef := c.db.Collection(collectionDeliveries).Doc(string(run.DeliveryID))
			if err := tx.Create(deliveryRef, &deliveryDoc{
				RunID:     run.ID.String(),
				CreatedAt: run.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return tx.Create(runRef, run)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(err, "run already exists for delivery",
				goerr.V("delivery_id", run.DeliveryID),
				goerr.T(types.ErrTagConflict))
		}
		return goerr.Wrap(err, "failed to create run", goerr.V("run_id", run.ID))
	}
	return nil
}

// UpdateRun overwrites an existing run document.
func (c *Client) UpdateRun(ctx context.Context, run *model.Run) error {
	ref := c.db.Collection(collectionRuns).Doc(run.ID.String())

	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(err, "run not found",
				goerr.V("run_id", run.ID), goerr.T(types.ErrTagNotFound))
		}
		return goerr.Wrap(err, "failed to get run", goerr.V("run_id", run.ID))
	}

	if _, err := ref.Set(ctx, run); err != nil {
		return goerr.Wrap(err, "failed to update run", goerr.V("run_id", run.ID))
	}
	return nil
}

// GetRun returns the stored run.
func (c *Client) GetRun(ctx context.Context, id types.RunID) (*model.Run, error) {
	snap, err := c.db.Collection(collectionRuns).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(err, "run not found",
				goerr.V("run_id", id), goerr.T(types.ErrTagNotFound))
		}
		return nil, goerr.Wrap(err, "failed to get run", goerr.V("run_id", id))
	}

	var run model.Run
	if err := snap.DataTo(&run); err != nil {
		return nil, goerr.Wrap(err, "failed to decode run", goerr.V("run_id", id))
	}
	return &run, nil
}

// ListRuns returns runs matching the query, newest first.
func (c *Client) ListRuns(ctx context.Context, q *model.RunQuery) ([]*model.Run, error) {
	query := c.db.Collection(collectionRuns).Query
	if q.Repository != "" {
		query = query.Where("Repository", "==", q.Repository)
	}
	if q.Status != "" {
		query = query.Where("Status", "==", string(q.Status))
	}
	query = query.OrderBy("CreatedAt", firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var runs []*model.Run
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate runs")
		}

		var run model.Run
		if err := doc.DataTo(&run); err != nil {
			return nil, goerr.Wrap(err, "failed to decode run",
				goerr.V("doc_id", doc.Ref.ID))
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

// CreateArtifact stores a new artifact record.
func (c *Client) CreateArtifact(ctx context.Context, artifact *model.Artifact) error {
	ref := c.db.Collection(collectionArtifacts).Doc(artifact.ID.String())
	if _, err := ref.Create(ctx, artifact); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(err, "artifact already exists",
				goerr.V("artifact_id", artifact.ID), goerr.T(types.ErrTagConflict))
		}
		return goerr.Wrap(err, "failed to create artifact",
			goerr.V("artifact_id", artifact.ID))
	}
	return nil
}

// GetArtifact returns the stored artifact record.
func (c *Client) GetArtifact(ctx context.Context, id types.ArtifactID) (*model.Artifact, error) {
	snap, err := c.db.Collection(collectionArtifacts).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(err, "artifact not found",
				goerr.V("artifact_id", id), goerr.T(types.ErrTagNotFound))
		}
		return nil, goerr.Wrap(err, "failed to get artifact",
			goerr.V("artifact_id", id))
	}

	var artifact model.Artifact
	if err := snap.DataTo(&artifact); err != nil {
		return nil, goerr.Wrap(err, "failed to decode artifact",
			goerr.V("artifact_id", id))
	}
	return &artifact, nil
}

// ListArtifactsByRun returns the artifact records of a run, ordered by name.
func (c *Client) ListArtifactsByRun(ctx context.Context, runID types.RunID) ([]*model.Artifact, error) {
	iter := c.db.Collection(collectionArtifacts).
		Where("RunID", "==", runID.String()).
		OrderBy("Name", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	return collectArtifacts(iter)
}

// ListExpiredArtifacts returns up to limit artifacts past their expiry,
// oldest deadline first. Records without a deadline never expire.
func (c *Client) ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Artifact, error) {
	// A zero ExpiresAt sorts before the epoch, so the lower bound keeps
	// deadline-free artifacts out of the range.
	query := c.db.Collection(collectionArtifacts).
		Where("ExpiresAt", ">", time.Unix(0, 0)).
		Where("ExpiresAt", "<", now).
		OrderBy("ExpiresAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	return collectArtifacts(iter)
}

// DeleteArtifact removes an artifact record. Deleting a missing record
// is not an error.
func (c *Client) DeleteArtifact(ctx context.Context, id types.ArtifactID) error {
	if _, err := c.db.Collection(collectionArtifacts).Doc(id.String()).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete artifact",
			goerr.V("artifact_id", id))
	}
	return nil
}

func collectArtifacts(iter *firestore.DocumentIterator) ([]*model.Artifact, error) {
	var artifacts []*model.Artifact
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate artifacts")
		}

		var artifact model.Artifact
		if err := doc.DataTo(&artifact); err != nil {
			return nil, goerr.Wrap(err, "failed to decode artifact",
				goerr.V("doc_id", doc.Ref.ID))
		}
		artifacts = append(artifacts, &artifact)
	}
	return artifacts, nil
}
