package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/model"
)

// TitleProperty is the database column holding the neighborhood name.
const TitleProperty = "Name"

// metricColumns fixes which metrics are published and their property names.
// The names match the CSV export columns so the Notion database and the file
// outputs stay aligned.
var metricColumns = []string{
	model.MetricNeighborhoodZHVI,
	model.MetricCityZORI,
	model.MetricCityZHVI,
	model.MetricCityRTV,
	model.MetricCityRank,
	model.MetricWalkScore,
	model.MetricTransitScore,
	model.MetricBikeScore,
	model.MetricPopulation,
	model.MetricAreaSqMi,
	model.MetricPopDensity,
}

// PublishResult summarizes one publish run.
type PublishResult struct {
	Created int
	Updated int
}

// PublishNeighborhoods upserts one page per neighborhood record into a
// Notion database: the neighborhood name is the page title, city and state
// become selects, and every present metric becomes a number property. Pages
// matched by title are updated in place, everything else is created. The
// Client keeps calls under Notion's 3 req/s limit.
func PublishNeighborhoods(ctx context.Context, c Client, dbID string, records []model.NeighborhoodRecord) (PublishResult, error) {
	var result PublishResult
	log := zap.L().With(
		zap.String("component", "notion"),
		zap.String("database", dbID),
	)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, eris.Wrap(err, "notion: publish cancelled")
		}
		if rec.Name == "" {
			log.Debug("skipping record without a name", zap.String("id", rec.ID))
			continue
		}

		props := neighborhoodProperties(rec)

		existing, err := FindPageByTitle(ctx, c, dbID, TitleProperty, rec.Name)
		if err != nil {
			return result, err
		}

		if existing != nil {
			req := &notionapi.PageUpdateRequest{Properties: props}
			if _, err := c.UpdatePage(ctx, string(existing.ID), req); err != nil {
				return result, eris.Wrapf(err, "notion: update neighborhood %s", rec.Name)
			}
			result.Updated++
			continue
		}

		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: props,
		}
		if _, err := c.CreatePage(ctx, req); err != nil {
			return result, eris.Wrapf(err, "notion: create neighborhood %s", rec.Name)
		}
		result.Created++
	}

	log.Info("neighborhoods published",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
	)
	return result, nil
}

// neighborhoodProperties converts one record to Notion page properties.
// Missing metrics are omitted entirely rather than published as zero.
func neighborhoodProperties(rec model.NeighborhoodRecord) notionapi.Properties {
	props := notionapi.Properties{
		TitleProperty: notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: rec.Name}},
			},
		},
	}

	if rec.CityName != "" {
		props["City"] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: rec.CityName},
		}
	}
	if rec.StateID != "" {
		props["State"] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: rec.StateID},
		}
	}
	if rec.CountyFIPS != "" {
		props["County FIPS"] = notionapi.RichTextProperty{
			Type: notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: rec.CountyFIPS}},
			},
		}
	}

	for _, key := range metricColumns {
		if v, ok := rec.Metric(key); ok {
			props[key] = notionapi.NumberProperty{
				Type:   notionapi.PropertyTypeNumber,
				Number: v,
			}
		}
	}

	return props
}
