package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("events")

		collection.Fields.Add(
			&core.TextField{
				Name:     "name",
				Required: true,
			},
			&core.EditorField{
				Name: "description",
			},
			&core.DateField{
				Name:     "date",
				Required: true,
			},
			&core.TextField{
				Name: "venue",
			},
			&core.TextField{
				Name: "start_time",
			},
			&core.TextField{
				Name: "end_time",
			},
			&core.NumberField{
				Name: "price",
				Min:  types.Pointer(0.0),
			},
			&core.NumberField{
				Name:     "total_seats",
				Required: true,
				OnlyInt:  true,
				Min:      types.Pointer(1.0),
			},
			&core.SelectField{
				Name:      "status",
				Values:    []string{"upcoming", "pending", "closed"},
				MaxSelect: 1,
			},
			&core.SelectField{
				Name:      "popularity",
				Values:    []string{"new", "trending", "popular"},
				MaxSelect: 1,
			},
			&core.AutodateField{
				Name:     "created",
				OnCreate: true,
			},
			&core.AutodateField{
				Name:     "updated",
				OnCreate: true,
				OnUpdate: true,
			},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
