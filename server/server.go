// Package server assembles the KronosDB services: metadata, storage,
// query execution, the HTTP API and the backup endpoint.
package server

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/soheilhy/cmux"
	"go.uber.org/zap"

	"github.com/kronosdb/kronosdb/meta"
	"github.com/kronosdb/kronosdb/models"
	"github.com/kronosdb/kronosdb/pkg/logger"
	"github.com/kronosdb/kronosdb/pkg/network"
	"github.com/kronosdb/kronosdb/query"
	"github.com/kronosdb/kronosdb/server/continuous_querier"
	"github.com/kronosdb/kronosdb/server/snapshotter"
	"github.com/kronosdb/kronosdb/tsdb"
)

var startTime time.Time

func init() {
	startTime = time.Now().UTC()
}

// Server is a single-node KronosDB instance.
type Server struct {
	Config *Config

	// Version is reported by /ping?verbose=true.
	Version string

	err     chan error
	closing chan struct{}

	listener     net.Listener
	httpMux      cmux.CMux
	httpListener net.Listener
	tcpMux       cmux.CMux
	tcpListener  net.Listener

	httpHandler *Handler
	httpServer  *http.Server

	MetaClient *meta.Client
	TSDBStore  *tsdb.Store

	queryExecutor *query.Executor

	continuousQuerierService *continuous_querier.Service
	snapshotterService       *snapshotter.Service

	Logger *zap.Logger
}

// NewServer returns a new instance of Server built from a config.
func NewServer(c *Config) *Server {
	return &Server{
		Config:  c,
		err:     make(chan error),
		closing: make(chan struct{}),
		Logger:  logger.L(),
	}
}

// Open opens all the server's resources and begins serving.
func (s *Server) Open() error {
	if err := s.initMetaClient(); err != nil {
		return err
	}

	if err := s.initTSDBStore(); err != nil {
		return err
	}

	s.queryExecutor = query.NewExecutor(s.MetaClient, s.TSDBStore)
	s.queryExecutor.WithLogger(s.Logger)

	if err := s.initTCPServer(); err != nil {
		return err
	}

	if err := s.initHTTPServer(); err != nil {
		return err
	}

	if err := s.openServices(); err != nil {
		return err
	}

	go s.startHTTPServer()
	go s.startTCPServer()

	return nil
}

// Close shuts down all the server's resources.
func (s *Server) Close() {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	if s.snapshotterService != nil {
		_ = s.snapshotterService.Close()
	}

	if s.continuousQuerierService != nil {
		_ = s.continuousQuerierService.Close()
	}

	// Close the TSDBStore, no more reads or writes at this point
	if s.TSDBStore != nil {
		_ = s.TSDBStore.Close()
	}

	if s.MetaClient != nil {
		_ = s.MetaClient.Close()
	}

	close(s.closing)
}

// Err returns an error channel that multiplexes all out of band errors received from all services.
func (s *Server) Err() <-chan error { return s.err }

func (s *Server) initMetaClient() error {
	if err := os.MkdirAll(s.Config.Meta.Dir, 0777); err != nil {
		return fmt.Errorf("mkdir all: %s", err)
	}

	s.MetaClient = meta.NewClient(s.Config.Meta)
	s.MetaClient.WithLogger(s.Logger)
	return s.MetaClient.Open()
}

func (s *Server) initTSDBStore() error {
	s.TSDBStore = tsdb.NewStore(s.Config.Data)
	s.TSDBStore.WithLogger(s.Logger)
	if err := s.TSDBStore.Open(); err != nil {
		return fmt.Errorf("open tsdb store: %s", err)
	}

	// Databases known to the meta store always have a shard.
	for _, di := range s.MetaClient.Databases() {
		if err := s.TSDBStore.CreateShard(di.Name); err != nil {
			return fmt.Errorf("create shard %s: %s", di.Name, err)
		}
	}
	return nil
}

func (s *Server) initTCPServer() error {
	tcpLn, err := net.Listen("tcp", s.Config.BindAddress)
	if err != nil {
		return fmt.Errorf("listen: %s", err)
	}
	s.tcpListener = tcpLn
	s.tcpMux = cmux.New(tcpLn)
	return nil
}

func (s *Server) initHTTPServer() error {
	ln, err := net.Listen("tcp", s.Config.HTTPD.BindAddress)
	if err != nil {
		return fmt.Errorf("listen: %s", err)
	}
	s.listener = ln

	s.httpMux = cmux.New(s.listener)
	s.httpListener = s.httpMux.Match(cmux.HTTP1Fast())

	h := NewHandler(&s.Config.HTTPD, s.MetaClient)
	h.Version = s.Version
	h.QueryExecutor = s.queryExecutor
	h.TSDBStore = s.TSDBStore
	h.WithLogger(s.Logger)
	h.Open()

	s.httpHandler = h
	return nil
}

func (s *Server) openServices() error {
	s.snapshotterService = snapshotter.NewService()
	s.snapshotterService.MetaClient = s.MetaClient
	s.snapshotterService.TSDBStore = s.TSDBStore
	s.snapshotterService.Listener = network.ListenByte(s.tcpMux, snapshotter.MuxHeader)
	s.snapshotterService.WithLogger(s.Logger)
	if err := s.snapshotterService.Open(); err != nil {
		return fmt.Errorf("open snapshotter service: %s", err)
	}

	s.continuousQuerierService = continuous_querier.NewService(s.Config.ContinuousQuery)
	s.continuousQuerierService.MetaClient = s.MetaClient
	s.continuousQuerierService.QueryExecutor = s.queryExecutor
	s.continuousQuerierService.WithLogger(s.Logger)
	if err := s.continuousQuerierService.Open(); err != nil {
		return fmt.Errorf("open continuous query service: %s", err)
	}
	s.httpHandler.PointsFanout = s.continuousQuerierService

	return nil
}

func (s *Server) startHTTPServer() {
	srv := http.NewServeMux()
	srv.Handle("/", s.httpHandler)

	srv.HandleFunc("/debug/pprof/", pprof.Index)
	srv.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	srv.HandleFunc("/debug/pprof/profile", pprof.Profile)
	srv.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	srv.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.httpServer = &http.Server{Addr: s.Config.HTTPD.BindAddress, Handler: srv}

	go func() {
		err := s.httpServer.Serve(s.httpListener)
		s.Logger.Info("http server stopped", zap.Error(err))
	}()

	if err := s.httpMux.Serve(); err != nil {
		s.Logger.Info("http mux stopped", zap.Error(err))
	}
}

func (s *Server) startTCPServer() {
	if err := s.tcpMux.Serve(); err != nil {
		s.Logger.Info("tcp mux stopped", zap.Error(err))
	}
}

// URL returns the base URL of the HTTP listener.
func (s *Server) URL() string {
	return "http://" + s.httpListener.Addr().String()
}

// TCPAddr returns the address of the TCP services listener.
func (s *Server) TCPAddr() string {
	return s.tcpListener.Addr().String()
}

// Statistics returns statistics for the services running in the Server.
func (s *Server) Statistics(tags map[string]string) []models.Statistic {
	var statistics []models.Statistic
	statistics = append(statistics, models.Statistic{
		Name: "runtime",
		Tags: tags,
		Values: map[string]interface{}{
			"uptime": time.Since(startTime).String(),
		},
	})
	statistics = append(statistics, s.httpHandler.Statistics(tags))
	statistics = append(statistics, s.TSDBStore.Statistics()...)
	statistics = append(statistics, s.continuousQuerierService.Statistics()...)
	return statistics
}
