package cli

import (
	"context"
	"encoding/json"

	"github.com/turtacn/OptiFlow/internal/app"
	"github.com/turtacn/OptiFlow/internal/application/orchestration"
	"github.com/turtacn/OptiFlow/pkg/client"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// Backend is what the solve and model commands talk to: the in-process
// service or a remote server.  Bodies are JSON request documents.
type Backend interface {
	Solve(ctx context.Context, body []byte) (*common.Result, error)
	SolveDomain(ctx context.Context, slug string, body []byte) (*common.Result, error)
	Build(ctx context.Context, body []byte) (*common.BuildResponse, error)
	Run(ctx context.Context, id string, run common.RunRequest) (*common.Result, error)
	Delete(ctx context.Context, id string) error
	Flows(ctx context.Context) ([]common.FlowInfo, error)
	Close() error
}

func defaultBackend(c *CLIContext) (Backend, error) {
	if c.ServerAddr != "" {
		cl, err := client.NewClient(c.ServerAddr,
			client.WithTimeout(c.Timeout),
			client.WithUserAgent("optiflow-cli/"+Version))
		if err != nil {
			return nil, err
		}
		return &remoteBackend{client: cl}, nil
	}
	a, err := app.New(context.Background(), c.Config, c.Logger)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a, svc: a.Service}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// In-process
// ─────────────────────────────────────────────────────────────────────────────

type localBackend struct {
	app *app.App
	svc orchestration.Service
}

func (b *localBackend) Solve(ctx context.Context, body []byte) (*common.Result, error) {
	req, err := orchestration.NewRequest(body)
	if err != nil {
		return nil, err
	}
	return toCommon(b.svc.Solve(ctx, req))
}

func (b *localBackend) SolveDomain(ctx context.Context, slug string, body []byte) (*common.Result, error) {
	return toCommon(b.svc.SolvePath(ctx, slug, body))
}

func (b *localBackend) Build(ctx context.Context, body []byte) (*common.BuildResponse, error) {
	req, err := orchestration.NewRequest(body)
	if err != nil {
		return nil, err
	}
	return b.svc.Build(ctx, req)
}

func (b *localBackend) Run(ctx context.Context, id string, run common.RunRequest) (*common.Result, error) {
	return toCommon(b.svc.Run(ctx, id, run.Overrides()))
}

func (b *localBackend) Delete(ctx context.Context, id string) error {
	return b.svc.Delete(ctx, id)
}

func (b *localBackend) Flows(context.Context) ([]common.FlowInfo, error) {
	return b.svc.Flows(), nil
}

func (b *localBackend) Close() error {
	if b.app != nil {
		b.app.Close()
	}
	return nil
}

// toCommon renders a service result in its wire form.
func toCommon(res *orchestration.Result, err error) (*common.Result, error) {
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSerialization, "encode result").WithCause(err)
	}
	var out common.Result
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.New(errors.ErrCodeSerialization, "decode result").WithCause(err)
	}
	return &out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Remote
// ─────────────────────────────────────────────────────────────────────────────

type remoteBackend struct {
	client *client.Client
}

func (b *remoteBackend) Solve(ctx context.Context, body []byte) (*common.Result, error) {
	return b.client.Solve(ctx, json.RawMessage(body))
}

func (b *remoteBackend) SolveDomain(ctx context.Context, slug string, body []byte) (*common.Result, error) {
	return b.client.SolveDomain(ctx, slug, json.RawMessage(body))
}

func (b *remoteBackend) Build(ctx context.Context, body []byte) (*common.BuildResponse, error) {
	return b.client.Build(ctx, json.RawMessage(body))
}

func (b *remoteBackend) Run(ctx context.Context, id string, run common.RunRequest) (*common.Result, error) {
	return b.client.Run(ctx, id, &run)
}

func (b *remoteBackend) Delete(ctx context.Context, id string) error {
	return b.client.Delete(ctx, id)
}

func (b *remoteBackend) Flows(ctx context.Context) ([]common.FlowInfo, error) {
	return b.client.Flows(ctx)
}

func (b *remoteBackend) Close() error { return nil }

//Personal.AI order the ending
