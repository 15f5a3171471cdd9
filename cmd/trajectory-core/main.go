// Command trajectory-core runs the trajectory analysis pipeline's
// dispatcher: it polls for devices with unprocessed samples and segments
// each device's trips on a bounded worker pool (spec.md §5), following
// the teacher's app/gtfs-aggregator entrypoint shape.
package main

import (
	"context"
	"fmt"
	logger "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"

	"github.com/opentransittools/trajectorycore/business/data/store/pgstore"
	"github.com/opentransittools/trajectorycore/business/trajectory"
	"github.com/opentransittools/trajectorycore/business/trajectory/dispatch"
	"github.com/opentransittools/trajectorycore/business/trajectory/notify"
	"github.com/opentransittools/trajectorycore/business/trajectory/redislock"
	"github.com/opentransittools/trajectorycore/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "TRAJECTORY : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %+v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
			OriginLon  float64 `conf:"default:0"`
			OriginLat  float64 `conf:"default:0"`
		}
		NATS struct {
			URL              string `conf:"default:localhost"`
			ProcessedSubject string `conf:"default:trip-processed"`
		}
		Redis struct {
			Addr     string `conf:"default:"`
			Password string `conf:"default:,noprint"`
			DB       int    `conf:"default:0"`
			LockTTL  time.Duration `conf:"default:5m"`
		}
		HTTP struct {
			HealthAddr string `conf:"default:0.0.0.0:4000"`
		}
		Pipeline         trajectory.PipelineConfig
		Dispatch         dispatch.Conf
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Segments device location samples into trips and mode-tagged legs"
	const prefix = "TRAJECTORY"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main: Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	log.Println("main: Initializing database support")
	db, err := pgstore.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	}, cfg.DB.OriginLon, cfg.DB.OriginLat)
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err := db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	log.Printf("main: Connecting to NATS\n")
	natsConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("unable to establish connection to nats server: %w", err)
	}
	defer func() {
		log.Printf("main: closing connection to NATS")
		natsConn.Close()
	}()
	publisher := notify.New(natsConn, cfg.NATS.ProcessedSubject)

	var locker dispatch.Locker
	if cfg.Redis.Addr != "" {
		log.Printf("main: Connecting to Redis for cross-process device locking\n")
		rl, err := redislock.New(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.LockTTL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rl.Close(); err != nil {
				log.Printf("main: error closing redis: %v", err)
			}
		}()
		locker = rl
	}

	runner := func(ctx context.Context, deviceID string, start, end time.Time) error {
		return trajectory.RunDevice(ctx, log, cfg.Pipeline, deviceID, start, end, false, db, db, db, db, publisher)
	}
	disp := dispatch.New(log, cfg.Dispatch, db, runner, locker)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go serveHealth(log, cfg.HTTP.HealthAddr)

	log.Printf("main: starting dispatcher\n")
	return disp.Run(context.Background(), shutdown)
}

// serveHealth runs the small operational HTTP surface SPEC_FULL.md §2
// calls for: health/ready checks only, no business API.
func serveHealth(log *logger.Logger, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("main: health server stopped: %v", err)
	}
}
