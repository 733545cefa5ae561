package worker

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/keboola/schedule-coordinator/internal/pkg/idgenerator"
	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/manager"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/telemetry"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// Factory runs one Manager per domain, all managers share the ManagerFactoryUUID of the process.
type Factory struct {
	logger   log.Logger
	data     *manager.DataManager
	identity Identity
	managers []*Manager
}

type FactoryConfig struct {
	IP        string
	HostName  string
	ThreadNum int
	Domains   []string
}

func NewFactory(ctx context.Context, data *manager.DataManager, tel telemetry.Telemetry, metrics *Metrics, executor Executor, cfg FactoryConfig) (*Factory, error) {
	return newFactory(ctx, data, tel, metrics, executor, cfg, os.Hostname)
}

func newFactory(ctx context.Context, data *manager.DataManager, tel telemetry.Telemetry, metrics *Metrics, executor Executor, cfg FactoryConfig, hostname func() (string, error)) (*Factory, error) {
	if len(cfg.Domains) == 0 {
		return nil, errors.New("at least one domain must be configured")
	}

	logger := data.Logger().WithComponent("worker.factory")
	if cfg.HostName == "" {
		var err error
		if cfg.HostName, err = hostname(); err != nil {
			logger.Warnf(ctx, `cannot get host name: %s`, err)
		}
	}

	identity := Identity{
		IP:                 cfg.IP,
		HostName:           cfg.HostName,
		ThreadNum:          cfg.ThreadNum,
		ManagerFactoryUUID: idgenerator.ManagerFactoryID(cfg.IP, cfg.HostName),
	}

	f := &Factory{logger: logger, data: data, identity: identity}

	errs := errors.NewMultiError()
	seen := make(map[string]bool)
	for _, str := range cfg.Domains {
		domain, err := ParseDomain(str)
		if err != nil {
			errs.Append(err)
			continue
		}
		if seen[domain.TaskType()] {
			errs.Append(errors.Errorf(`domain "%s" is configured twice`, domain))
			continue
		}
		seen[domain.TaskType()] = true
		f.managers = append(f.managers, NewManager(data, tel, metrics, executor, domain, identity))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, errors.PrefixError(err, "invalid domains")
	}
	return f, nil
}

func (f *Factory) UUID() string {
	return f.identity.ManagerFactoryUUID
}

func (f *Factory) Managers() []*Manager {
	return f.managers
}

// Run starts all managers and blocks until the context is cancelled and all servers are unregistered.
func (f *Factory) Run(ctx context.Context) error {
	f.logger.Infof(ctx, `starting "%d" domains, factory "%s"`, len(f.managers), f.UUID())
	grp, ctx := errgroup.WithContext(ctx)
	for _, m := range f.managers {
		m := m
		grp.Go(func() error {
			return m.Run(ctx)
		})
	}
	return grp.Wait()
}

// Servers returns registrations of the process in all domains.
func (f *Factory) Servers(ctx context.Context) ([]model.Server, error) {
	return f.data.Servers().FindByManagerFactory(ctx, f.UUID())
}
