package uninstaller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/agent-deploy/internal/config"
	domain "github.com/oshokin/agent-deploy/internal/domain/deploy"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/pkgmgr"
	"github.com/oshokin/agent-deploy/internal/repository/state"
	"github.com/oshokin/agent-deploy/internal/service/common"
	"github.com/oshokin/agent-deploy/internal/service/installer"
)

// errInstallerRunning indicates a removal was requested mid-install.
var errInstallerRunning = errors.New("the installer is running now")

// Options are inputs accepted by the uninstaller entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// PurgeConfig also deletes the registration file and rollout state.
	PurgeConfig bool
}

// packageRemover is the slice of pkgmgr.Manager the uninstaller needs.
type packageRemover interface {
	Remove(ctx context.Context, packages ...string) error
}

// remover holds resolved dependencies for a single removal run.
type remover struct {
	cfg       *config.Config
	opts      *Options
	manager   packageRemover
	stateRepo state.Repository
	actor     *domain.Actor
	runID     string
}

// Run removes the bundle packages and, on request, the registration artifacts.
func Run(ctx context.Context, opts *Options) error {
	runID := uuid.NewString()

	ctx = logger.WithName(ctx, "agent-uninstaller")
	ctx = logger.WithKV(ctx, "run_id", runID)

	if installer.IsInstallerRunningNow(ctx) {
		return errInstallerRunning
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	actor, err := common.DetectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	command := cfg.ManagerCommand
	if command == "" {
		if command, err = pkgmgr.Detect(); err != nil {
			return err
		}
	}

	r := &remover{
		cfg:  cfg,
		opts: opts,
		manager: pkgmgr.New(command, cfg.Timeout,
			pkgmgr.WithMaxTries(uint(cfg.MaxRetries))),
		stateRepo: state.NewFileRepository(filepath.Join(cfg.InstallRoot, state.DefaultStateFilename)),
		actor:     actor,
		runID:     runID,
	}

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Uninstall run failed", "error", err)
		return err
	}

	logger.Info(ctx, "Uninstaller completed")

	return nil
}

// Run removes the packages and cleans up rollout artifacts.
func (r *remover) Run(ctx context.Context) error {
	names := r.packageNames(ctx)

	logger.InfoKV(ctx, "Removing packages", "packages", strings.Join(names, ", "))

	if err := r.manager.Remove(ctx, names...); err != nil {
		return fmt.Errorf("remove packages: %w", err)
	}

	if r.opts.PurgeConfig {
		if err := r.purgeArtifacts(ctx); err != nil {
			return err
		}

		return nil
	}

	r.recordState(ctx)

	return nil
}

// packageNames prefers the recorded rollout state over settings so removals
// match what was actually installed.
func (r *remover) packageNames(ctx context.Context) []string {
	files := r.cfg.Packages

	if s, err := r.stateRepo.Load(ctx); err == nil && len(s.Packages) > 0 {
		files = s.Packages
	}

	names := make([]string, 0, len(files))
	for _, fileName := range files {
		names = append(names, strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	}

	return names
}

// purgeArtifacts deletes the registration file and the rollout state.
func (r *remover) purgeArtifacts(ctx context.Context) error {
	tokenFile := r.cfg.TokenFilePath()
	if err := os.Remove(tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", tokenFile, err)
	}

	stateFile := filepath.Join(r.cfg.InstallRoot, state.DefaultStateFilename)
	if err := os.Remove(stateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", stateFile, err)
	}

	logger.InfoKV(ctx, "Registration artifacts purged", "token_file", tokenFile)

	return nil
}

// recordState marks the bundle as removed for later verifier runs. When the
// installer left a record, its bundle details are carried forward.
func (r *remover) recordState(ctx context.Context) {
	s := &domain.State{
		RunID:    r.runID,
		Packages: append([]string(nil), r.cfg.Packages...),
	}

	if prior, err := r.stateRepo.Load(ctx); err == nil {
		s = prior.Clone()
		s.RunID = r.runID
	}

	s.Phase = domain.PhaseRemoved
	s.Timestamp = time.Now().UTC()
	s.LastActor = r.actor.Clone()

	if err := r.stateRepo.Save(ctx, s); err != nil {
		logger.WarnKV(ctx, "Unable to record rollout state", "error", err)
	}
}
