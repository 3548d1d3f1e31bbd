package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/vjranagit/spack-sub003/internal/metrics"
	"github.com/vjranagit/spack-sub003/internal/resolver"
	"github.com/vjranagit/spack-sub003/internal/service"
	"github.com/vjranagit/spack-sub003/internal/store"
)

type serveOptions struct {
	*options
	addr        string
	metricsAddr string
	installed   string
}

func newServeCommand(o *options) *cobra.Command {
	s := &serveOptions{options: o}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Concretizer gRPC API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.run(cmd)
		},
	}
	f := cmd.Flags()
	f.StringVar(&s.addr, "addr", ":50051", "The address the gRPC service binds to.")
	f.StringVar(&s.metricsAddr, "metrics-addr", ":8080", "The address the metric endpoint binds to. Empty disables it.")
	f.StringVar(&s.installed, "installed", "", "Installed-spec database consulted for reuse")
	return cmd
}

func (s *serveOptions) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	log := logr.FromContextOrDiscard(ctx).WithName("serve")

	policy, err := s.policy(cmd)
	if err != nil {
		return err
	}
	r, err := s.repository(ctx)
	if err != nil {
		return err
	}
	var installed service.Installed
	if s.installed != "" {
		db, err := store.Open(s.installed)
		if err != nil {
			return err
		}
		installed = db
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New()
	if err := rec.Register(reg); err != nil {
		return err
	}

	srv := grpc.NewServer(grpc.UnaryInterceptor(service.LoggingInterceptor(log)))
	service.Register(srv, service.NewServer(resolver.NewDefault(r, policy, resolver.WithMetrics(rec)), installed))
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("serving gRPC", "addr", lis.Addr().String())
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.GracefulStop()
		return nil
	})
	if s.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: s.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", "addr", s.metricsAddr)
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdown)
		})
	}
	return g.Wait()
}
