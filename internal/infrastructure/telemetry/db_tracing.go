package telemetry

import (
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"
)

// InstrumentGorm registers otelgorm spans on db. Query variables are never
// attached to spans since they may carry customer data.
func InstrumentGorm(db *gorm.DB, dbSystem string) error {
	return db.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(dbSystem),
		otelgorm.WithoutQueryVariables(),
	))
}
