package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oastkeeper/oastkeeper/internal/o11y"
)

// Deployment is the result of a successful 'Up'.
type Deployment struct {
	Durable    DurableDeployment
	Network    NetworkDeployment
	Controller ControllerDeployment
}

// Up creates the full deployment: durable resource set, security surface,
// instance template and replacement controller. The first instance launches
// asynchronously; its bootstrap reclaims the resources created here exactly
// like every later replacement does; there is no special first-boot path on
// the deployer side.
//
// On failure, everything created so far is destroyed in reverse order.
func (d *Deployer) Up(ctx context.Context) (*Deployment, error) {
	if err := d.Config.validate(); err != nil {
		return nil, fmt.Errorf("invalid deploy config: %w", err)
	}

	log := clog.FromContext(ctx).With(o11y.AttrRunID, d.runID)
	ctx = clog.WithLogger(ctx, log)
	ctx, span := otel.Tracer("deploy").Start(ctx, "Up")
	span.SetAttributes(
		attribute.String(o11y.AttrRunID, d.runID),
		attribute.String(o11y.AttrName, d.Config.Name),
	)
	defer span.End()
	log.Info("beginning deployment", "name", d.Config.Name, "region", d.Config.Region)

	dep, err := d.up(ctx)
	if err == nil {
		log.Info("deployment is complete",
			"public_ip", dep.Durable.PublicIP,
			"domain", d.Config.Domain,
		)
		return dep, nil
	}

	log.Error("deployment failed, rolling back created resources", "error", err)
	if destroyErr := d.stack.Destroy(ctx); destroyErr != nil {
		return nil, errors.Join(
			err,
			fmt.Errorf("rollback left resources behind: %w", destroyErr),
		)
	}
	return nil, err
}

func (d *Deployer) up(ctx context.Context) (*Deployment, error) {
	var dep Deployment
	var err error

	dep.Durable, err = d.deployDurable(ctx)
	if err != nil {
		return nil, err
	}

	dep.Network, err = d.deployNetwork(ctx)
	if err != nil {
		return nil, err
	}

	dep.Controller, err = d.deployController(ctx, dep.Durable, dep.Network)
	if err != nil {
		return nil, err
	}

	return &dep, nil
}
