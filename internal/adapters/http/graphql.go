package http

import (
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// breadcrumbMap flattens the embedded sample; graphql-go resolves plain map keys.
func breadcrumbMap(b domain.Breadcrumb) map[string]interface{} {
	m := map[string]interface{}{
		"id":          b.ID,
		"employee_id": b.EmployeeID,
		"visit_id":    b.VisitID,
		"latitude":    b.Latitude,
		"longitude":   b.Longitude,
		"source":      string(b.Source),
		"confidence":  string(b.Confidence),
		"captured_at": formatTime(b.CapturedAt),
	}
	if b.Accuracy != nil {
		m["accuracy"] = *b.Accuracy
	}
	return m
}

func breadcrumbMaps(rows []domain.Breadcrumb) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, b := range rows {
		out[i] = breadcrumbMap(b)
	}
	return out
}

func trackingMap(st domain.TrackingStatus) map[string]interface{} {
	return map[string]interface{}{
		"visit_id":         st.VisitID,
		"employee_id":      st.EmployeeID,
		"state":            string(st.State),
		"interval_seconds": st.IntervalSeconds,
		"started_at":       formatTime(st.StartedAt),
		"stopped_at":       formatTimePtr(st.StoppedAt),
		"last_capture_at":  formatTimePtr(st.LastCaptureAt),
		"captures":         st.Captures,
		"failures":         st.Failures,
		"last_error":       st.LastError,
	}
}

func optionalTimeArg(args map[string]interface{}, name string) (*time.Time, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, errors.New(name + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// buildSchema creates the read-only GraphQL schema over breadcrumbs and tracking.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lat": &graphql.Field{Type: graphql.Float},
			"min_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
		},
	})

	breadcrumbType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Breadcrumb",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"employee_id": &graphql.Field{Type: graphql.String},
			"visit_id":    &graphql.Field{Type: graphql.String},
			"latitude":    &graphql.Field{Type: graphql.Float},
			"longitude":   &graphql.Field{Type: graphql.Float},
			"accuracy":    &graphql.Field{Type: graphql.Float},
			"source":      &graphql.Field{Type: graphql.String},
			"confidence":  &graphql.Field{Type: graphql.String},
			"captured_at": &graphql.Field{Type: graphql.String},
			"stale":       &graphql.Field{Type: graphql.Boolean},
		},
	})

	visitPathType := graphql.NewObject(graphql.ObjectConfig{
		Name: "VisitPath",
		Fields: graphql.Fields{
			"visit_id":        &graphql.Field{Type: graphql.String},
			"breadcrumbs":     &graphql.Field{Type: graphql.NewList(breadcrumbType)},
			"points":          &graphql.Field{Type: graphql.NewList(geoPointType)},
			"distance_meters": &graphql.Field{Type: graphql.Float},
			"bounds":          &graphql.Field{Type: boundsType},
			"started_at":      &graphql.Field{Type: graphql.String},
			"ended_at":        &graphql.Field{Type: graphql.String},
		},
	})

	trackingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TrackingSession",
		Fields: graphql.Fields{
			"visit_id":         &graphql.Field{Type: graphql.String},
			"employee_id":      &graphql.Field{Type: graphql.String},
			"state":            &graphql.Field{Type: graphql.String},
			"interval_seconds": &graphql.Field{Type: graphql.Int},
			"started_at":       &graphql.Field{Type: graphql.String},
			"stopped_at":       &graphql.Field{Type: graphql.String},
			"last_capture_at":  &graphql.Field{Type: graphql.String},
			"captures":         &graphql.Field{Type: graphql.Int},
			"failures":         &graphql.Field{Type: graphql.Int},
			"last_error":       &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"latestLocations": &graphql.Field{
				Type:        graphql.NewList(breadcrumbType),
				Description: "Newest breadcrumb per employee; employees without one are omitted",
				Args: graphql.FieldConfigArgument{
					"employee_ids": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String)))},
					"stale_after":  &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					raw, _ := p.Args["employee_ids"].([]interface{})
					if len(raw) > maxLatestEmployees {
						return nil, errors.New("too many employee_ids (max 500)")
					}
					ids := make([]string, 0, len(raw))
					for _, v := range raw {
						if s, ok := v.(string); ok && s != "" {
							ids = append(ids, s)
						}
					}

					window := deps.StaleAfter
					if window <= 0 {
						window = defaultStaleAfter
					}
					if s, _ := p.Args["stale_after"].(string); s != "" {
						d, err := time.ParseDuration(s)
						if err != nil || d <= 0 {
							return nil, errors.New("stale_after must be a positive duration such as 5m")
						}
						window = d
					}

					latest, err := deps.Aggregator.LatestPerEmployee(p.Context, ids)
					if err != nil {
						return nil, err
					}
					_, stale := usecases.SplitStale(latest, time.Now(), window)

					result := make([]map[string]interface{}, 0, len(latest))
					for id, b := range latest {
						m := breadcrumbMap(b)
						_, isStale := stale[id]
						m["stale"] = isStale
						result = append(result, m)
					}
					sort.Slice(result, func(i, j int) bool {
						return result[i]["employee_id"].(string) < result[j]["employee_id"].(string)
					})
					return result, nil
				},
			},
			"employeeBreadcrumbs": &graphql.Field{
				Type:        graphql.NewList(breadcrumbType),
				Description: "An employee's breadcrumbs, newest first",
				Args: graphql.FieldConfigArgument{
					"employee_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"from":        &graphql.ArgumentConfig{Type: graphql.String},
					"to":          &graphql.ArgumentConfig{Type: graphql.String},
					"limit":       &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: defaultBreadcrumbLimit},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					from, err := optionalTimeArg(p.Args, "from")
					if err != nil {
						return nil, err
					}
					to, err := optionalTimeArg(p.Args, "to")
					if err != nil {
						return nil, err
					}
					limit, _ := p.Args["limit"].(int)
					if limit <= 0 || limit > maxBreadcrumbLimit {
						limit = defaultBreadcrumbLimit
					}
					rows, err := deps.Breadcrumbs.RangeByEmployee(p.Context, p.Args["employee_id"].(string), from, to, limit)
					if err != nil {
						return nil, err
					}
					return breadcrumbMaps(rows), nil
				},
			},
			"visitPath": &graphql.Field{
				Type:        visitPathType,
				Description: "The travelled path of a service visit",
				Args: graphql.FieldConfigArgument{
					"visit_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					path, err := deps.Breadcrumbs.VisitPath(p.Context, p.Args["visit_id"].(string))
					if err != nil {
						return nil, err
					}
					m := map[string]interface{}{
						"visit_id":        path.VisitID,
						"breadcrumbs":     breadcrumbMaps(path.Breadcrumbs),
						"points":          path.Line.Coordinates,
						"distance_meters": path.DistanceMeters,
						"started_at":      formatTimePtr(path.StartedAt),
						"ended_at":        formatTimePtr(path.EndedAt),
					}
					if path.Bounds != nil {
						m["bounds"] = path.Bounds
					}
					return m, nil
				},
			},
			"trackingSessions": &graphql.Field{
				Type:        graphql.NewList(trackingType),
				Description: "Tracking sessions running in this process",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Tracker == nil {
						return []map[string]interface{}{}, nil
					}
					active := deps.Tracker.Active()
					out := make([]map[string]interface{}, len(active))
					for i, st := range active {
						out[i] = trackingMap(st)
					}
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// a schema error is a programming error
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
