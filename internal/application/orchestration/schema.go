package orchestration

import (
	"net/http"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// APIPrefix is where the solve endpoints are mounted.
const APIPrefix = "/api/v1"

// SolveEndpoint returns the per-flow solve URL path.
func SolveEndpoint(f *Flow) string {
	return APIPrefix + "/solve/" + f.Path
}

// requestSchema generates the JSON schema of a flow's request type.
func requestSchema(f *Flow) (*openapi3.SchemaRef, error) {
	return openapi3gen.NewSchemaRefForValue(f.Request, openapi3.Schemas{})
}

// PayloadShape flattens a schema's top-level properties into field → informal
// type, e.g. "array<object>" or "map<number>".
func PayloadShape(ref *openapi3.SchemaRef) map[string]string {
	if ref == nil || ref.Value == nil {
		return nil
	}
	out := make(map[string]string, len(ref.Value.Properties))
	for name, prop := range ref.Value.Properties {
		out[name] = informalType(prop)
	}
	return out
}

func informalType(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil || ref.Value.Type == nil {
		return "any"
	}
	s := ref.Value
	switch {
	case s.Type.Is(openapi3.TypeArray):
		return "array<" + informalType(s.Items) + ">"
	case s.Type.Is(openapi3.TypeObject) && s.AdditionalProperties.Schema != nil:
		return "map<" + informalType(s.AdditionalProperties.Schema) + ">"
	}
	if types := s.Type.Slice(); len(types) > 0 {
		return types[0]
	}
	return "any"
}

func describeFlows(flows []Flow, logger logging.Logger) []common.FlowInfo {
	out := make([]common.FlowInfo, 0, len(flows))
	for i := range flows {
		f := &flows[i]
		info := common.FlowInfo{
			ID:          f.Key,
			Endpoint:    SolveEndpoint(f),
			Description: f.Description,
			Family:      string(f.Family),
		}
		if ref, err := requestSchema(f); err != nil {
			logger.Warn("no payload schema", logging.Problem(f.Key), logging.Err(err))
		} else {
			info.Payload = PayloadShape(ref)
		}
		out = append(out, info)
	}
	return out
}

// openAPIDocument describes every solve endpoint.
func openAPIDocument(flows []Flow, version string, logger logging.Logger) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "OptiFlow",
			Description: "Optimization orchestration: domain requests in, normalized solutions out.",
			Version:     version,
		},
		Paths: openapi3.NewPaths(),
	}

	resultSchema, err := openapi3gen.NewSchemaRefForValue(&Result{}, openapi3.Schemas{})
	if err != nil {
		logger.Warn("no result schema", logging.Err(err))
		resultSchema = openapi3.NewObjectSchema().NewRef()
	}
	errorSchema, err := openapi3gen.NewSchemaRefForValue(&common.ErrorDetail{}, openapi3.Schemas{})
	if err != nil {
		errorSchema = openapi3.NewObjectSchema().NewRef()
	}

	sorted := make([]*Flow, len(flows))
	for i := range flows {
		sorted[i] = &flows[i]
	}
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Path < sorted[b].Path })

	for _, f := range sorted {
		body, err := requestSchema(f)
		if err != nil {
			logger.Warn("endpoint left out of document", logging.Problem(f.Key), logging.Err(err))
			continue
		}
		op := openapi3.NewOperation()
		op.OperationID = "solve_" + f.Key
		op.Summary = f.Description
		op.Tags = []string{string(f.Family)}
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(body),
		}
		op.Responses = openapi3.NewResponses(openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription("Solve result").WithJSONSchemaRef(resultSchema),
		}))
		for _, st := range []struct {
			code int
			desc string
		}{
			{http.StatusBadRequest, "Invalid request or unsupported problem type"},
			{http.StatusUnprocessableEntity, "Infeasible or unbounded model"},
			{http.StatusBadGateway, "Solving capability failure"},
		} {
			op.AddResponse(st.code, openapi3.NewResponse().WithDescription(st.desc).WithJSONSchemaRef(errorSchema))
		}
		doc.Paths.Set(SolveEndpoint(f), &openapi3.PathItem{Post: op})
	}
	return doc
}
