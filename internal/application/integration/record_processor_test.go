package integration

import (
	"context"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/inmemory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productRecord(integrationID uuid.UUID, id string, fields map[string]string, updated time.Time) *integration.ExternalRecord {
	base := map[string]string{"sku": "SKU-1", "name": "Widget", "description": "", "status": "active", "vendor": "Acme", "price": "10.00"}
	for k, v := range fields {
		base[k] = v
	}
	return &integration.ExternalRecord{
		IntegrationID:     integrationID,
		EntityType:        integration.EntityTypeProducts,
		ExternalID:        id,
		Fields:            base,
		ExternalUpdatedAt: updated,
	}
}

func TestRecordProcessor_CreateThenUpdate(t *testing.T) {
	repo := inmemory.NewRecordRepository()
	p := NewRecordProcessor(repo, nil)
	ctx := context.Background()
	id := uuid.New()
	t0 := time.Now().UTC()

	r, outcome, err := p.Apply(ctx, productRecord(id, "1", nil, t0), false)
	require.NoError(t, err)
	assert.Equal(t, RecordCreated, outcome)
	assert.Nil(t, r.ItemConflict())

	r, outcome, err = p.Apply(ctx, productRecord(id, "1", nil, t0.Add(time.Minute)), false)
	require.NoError(t, err)
	assert.Equal(t, RecordUpdated, outcome)
	assert.Empty(t, r.Conflicts)

	n, err := repo.CountByIntegration(ctx, id, integration.EntityTypeProducts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRecordProcessor_ConflictsPerDifferingField(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"none", nil},
		{"one", map[string]string{"price": "12.00"}},
		{"two", map[string]string{"price": "12.00", "name": "Gadget"}},
		{"four", map[string]string{"price": "12.00", "name": "Gadget", "vendor": "Other", "status": "draft"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := inmemory.NewRecordRepository()
			p := NewRecordProcessor(repo, nil)
			ctx := context.Background()
			id := uuid.New()
			require.NoError(t, repo.Upsert(ctx, productRecord(id, "1", nil, time.Now())))

			r, err := p.Reconcile(ctx, productRecord(id, "1", tt.fields, time.Now()))
			require.NoError(t, err)
			require.Len(t, r.Conflicts, len(tt.fields))
			for _, c := range r.Conflicts {
				assert.Equal(t, tt.fields[c.Field], c.SourceValue)
				assert.NotEqual(t, c.SourceValue, c.TargetValue)
			}
		})
	}
}

func TestRecordProcessor_MostRecentWinsKeepsNewerLocalCopy(t *testing.T) {
	repo := inmemory.NewRecordRepository()
	p := NewRecordProcessor(repo, integration.MostRecentWinsResolver{})
	ctx := context.Background()
	id := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, productRecord(id, "1", map[string]string{"price": "20.00"}, now)))

	r, outcome, err := p.Apply(ctx, productRecord(id, "1", map[string]string{"price": "15.00"}, now.Add(-time.Hour)), false)
	require.NoError(t, err)
	assert.Equal(t, RecordSkipped, outcome)
	require.NotNil(t, r.ItemConflict())
	assert.Equal(t, integration.ResolutionKeepTarget, r.ItemConflict().Resolution)

	stored, err := repo.FindByExternalID(ctx, id, integration.EntityTypeProducts, "1")
	require.NoError(t, err)
	assert.Equal(t, "20.00", stored.Field("price"))
}

func TestRecordProcessor_DryRunDoesNotWrite(t *testing.T) {
	repo := inmemory.NewRecordRepository()
	p := NewRecordProcessor(repo, nil)
	id := uuid.New()

	_, outcome, err := p.Apply(context.Background(), productRecord(id, "1", nil, time.Now()), true)
	require.NoError(t, err)
	assert.Equal(t, RecordCreated, outcome)
	n, _ := repo.CountByIntegration(context.Background(), id, integration.EntityTypeProducts)
	assert.Zero(t, n)
}

func TestRecordProcessor_RequiresExternalID(t *testing.T) {
	p := NewRecordProcessor(inmemory.NewRecordRepository(), nil)
	_, err := p.Reconcile(context.Background(), &integration.ExternalRecord{EntityType: integration.EntityTypeProducts})
	var ve *integration.ValidationError
	assert.ErrorAs(t, err, &ve)
}
