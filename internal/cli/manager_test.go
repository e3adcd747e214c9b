package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hostfleet/internal/cli/commands"
	"hostfleet/internal/config"
	"hostfleet/internal/db"
	"hostfleet/internal/discovery"
	"hostfleet/internal/materialize"
	"hostfleet/internal/metrics"
	"hostfleet/internal/orchestrator"
	"hostfleet/internal/podman"
	"hostfleet/internal/systemd"
	"hostfleet/internal/testutil"
	"hostfleet/internal/types"
)

type ManagerSuite struct {
	suite.Suite

	cfg      *config.Config
	runner   *testutil.FakeRunner
	systemd  *testutil.FakeSystemd
	database *db.DB
	clock    *testutil.Clock
	builds   int
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	root := s.T().TempDir()
	s.builds = 0

	cfg := config.Default()
	cfg.BaseDir = filepath.Join(root, "opt")
	cfg.QuadletDir = filepath.Join(root, "quadlets")
	cfg.StateDir = filepath.Join(root, "state")
	cfg.Assets.Enabled = false
	cfg.Batch.LockWait = "50ms"
	s.Require().NoError(os.MkdirAll(filepath.Join(cfg.BaseDir, "config"), 0o755))
	s.Require().NoError(os.MkdirAll(cfg.QuadletDir, 0o755))
	for _, f := range cfg.RequiredPaths() {
		s.Require().NoError(os.WriteFile(f, []byte("x"), 0o644))
	}
	s.cfg = cfg

	s.runner = testutil.NewFakeRunner()
	s.systemd = testutil.NewFakeSystemd(cfg.QuadletDir)
	s.systemd.Install(s.runner)
	testutil.NewFakePodman(filepath.Join(root, "volume")).Install(s.runner)

	s.database = testutil.SetupTestDB(s.T())
	s.clock = testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
}

func (s *ManagerSuite) build(ctx context.Context, opts commands.GlobalOptions) (*commands.Runtime, error) {
	s.builds++
	registry, err := materialize.NewRegistry()
	if err != nil {
		return nil, err
	}
	sd := systemd.New(s.runner)
	pm := podman.New(s.runner)
	timeline := db.NewTimelineStore(s.database).WithClock(s.clock.Now)
	aliases := db.NewAliasStore(s.database).WithClock(s.clock.Now)
	m := metrics.New()
	return &commands.Runtime{
		Config:       s.cfg,
		Systemd:      sd,
		Podman:       pm,
		Discovery:    discovery.New(sd, s.cfg.UnitTemplates()),
		Registry:     registry,
		Materializer: materialize.New(),
		Timeline:     timeline,
		Aliases:      aliases,
		Orchestrator: orchestrator.New(s.cfg, sd, pm, registry, timeline,
			orchestrator.WithMetrics(m),
			orchestrator.WithImageResolver(aliases),
			orchestrator.WithSleep(func(context.Context, time.Duration) error { return nil })),
		Metrics: m,
	}, nil
}

// run executes one command line and returns stdout, stderr and the exit code.
func (s *ManagerSuite) run(stdin string, args ...string) (string, string, int) {
	var out, errOut bytes.Buffer
	m := New(s.build, WithStreams(strings.NewReader(stdin), &out, &errOut))
	err := m.ExecuteWithContext(context.Background(), args)
	return out.String(), errOut.String(), commands.ExitCode(err)
}

func (s *ManagerSuite) TestHelpNeedsNoRuntime() {
	out, _, code := s.run("", "--help")
	s.Equal(0, code)
	s.Contains(out, "hostfleet")
	s.Zero(s.builds)
}

func (s *ManagerSuite) TestDeployAndList() {
	out, _, code := s.run("", "instance", "deploy", "web", "7043", "7044")
	s.Equal(0, code, out)
	s.Contains(out, "web@7043")
	s.Contains(out, "deploy: 2 succeeded, 0 failed, 0 skipped")
	s.Contains(out, "image: ghcr.io/onetimesecret/onetimesecret:current")

	out, _, code = s.run("", "instance", "list", "--family", "web")
	s.Equal(0, code)
	s.Contains(out, "web@7043")
	s.Contains(out, "web@7044")

	out, _, code = s.run("", "timeline", "--operation", "deploy")
	s.Equal(0, code)
	s.Equal(2, strings.Count(out, "web@704"), out)

	out, _, code = s.run("", "timeline", "last-known", "--family", "web")
	s.Equal(0, code)
	s.Contains(out, "web@7043")
}

func (s *ManagerSuite) TestDeployJSON() {
	out, _, code := s.run("", "instance", "deploy", "web", "7043", "--json")
	s.Equal(0, code)

	var report struct {
		BatchID   string `json:"batch_id"`
		Operation string `json:"operation"`
		ExitCode  int    `json:"exit_code"`
		Outcomes  []struct {
			Status string `json:"status"`
		} `json:"outcomes"`
	}
	s.Require().NoError(json.Unmarshal([]byte(out), &report))
	s.NotEmpty(report.BatchID)
	s.Equal("deploy", report.Operation)
	s.Require().Len(report.Outcomes, 1)
	s.Equal("success", report.Outcomes[0].Status)
}

func (s *ManagerSuite) TestDryRun() {
	out, _, code := s.run("", "instance", "deploy", "web", "7043", "--dry-run")
	s.Equal(0, code)
	s.Contains(out, "1 planned (dry run)")
	s.Empty(s.runner.CallsWithPrefix("systemctl start"))
	_, err := os.Stat(s.cfg.QuadletPath(types.FamilyWeb))
	s.True(os.IsNotExist(err))
}

func (s *ManagerSuite) TestDeployNeedsIdentifiers() {
	_, _, code := s.run("", "instance", "deploy", "web")
	s.Equal(commands.ExitAborted, code)

	_, _, code = s.run("", "instance", "deploy", "service", "6379")
	s.Equal(commands.ExitAborted, code)

	_, _, code = s.run("", "instance", "deploy", "web", "../etc")
	s.Equal(commands.ExitAborted, code)
}

func (s *ManagerSuite) TestUndeployConfirmation() {
	_, _, code := s.run("", "instance", "deploy", "web", "7043")
	s.Require().Equal(0, code)

	_, errOut, code := s.run("n\n", "instance", "undeploy", "web", "7043")
	s.Equal(commands.ExitFailure, code)
	s.Contains(errOut, "[y/N]")
	unit, ok := s.systemd.Unit("onetime-web@7043.service")
	s.Require().True(ok)
	s.True(unit.Active)

	out, _, code := s.run("y\n", "instance", "undeploy", "web", "7043")
	s.Equal(0, code)
	s.Contains(out, "undeploy: 1 succeeded")
}

func (s *ManagerSuite) TestBatchWithoutIdentifiersTargetsDiscovered() {
	_, _, code := s.run("", "instance", "deploy", "web", "7043", "7044")
	s.Require().Equal(0, code)
	s.runner.Reset()

	out, _, code := s.run("", "instance", "restart", "web")
	s.Equal(0, code)
	s.Contains(out, "restart: 2 succeeded")
	s.Len(s.runner.CallsWithPrefix("systemctl restart"), 2)
}

func (s *ManagerSuite) TestStopAndRestartWithoutIdentifiersSkipInactive() {
	_, _, code := s.run("", "instance", "deploy", "web", "7043", "7044")
	s.Require().Equal(0, code)
	s.systemd.SetUnit("onetime-web@7044.service", false, true)
	s.runner.Reset()

	out, _, code := s.run("", "instance", "restart", "web")
	s.Equal(0, code, out)
	s.Contains(out, "restart: 1 succeeded")
	s.Equal([]string{"systemctl restart onetime-web@7043.service"}, s.runner.CallsWithPrefix("systemctl restart"))
	unit, _ := s.systemd.Unit("onetime-web@7044.service")
	s.False(unit.Active)

	out, _, code = s.run("", "instance", "stop", "web")
	s.Equal(0, code, out)
	s.Contains(out, "stop: 1 succeeded")

	out, _, code = s.run("", "instance", "start", "web")
	s.Equal(0, code, out)
	s.Contains(out, "start: 2 succeeded")
}

func (s *ManagerSuite) TestLastKnownReachesUnitsRemovedByHand() {
	_, _, code := s.run("", "instance", "deploy", "web", "7043", "7044")
	s.Require().Equal(0, code)
	s.systemd.SetUnit("onetime-web@7044.service", false, false)

	out, _, code := s.run("", "instance", "redeploy", "web")
	s.Equal(0, code, out)
	s.Contains(out, "redeploy: 1 succeeded")

	s.systemd.SetUnit("onetime-web@7044.service", false, false)
	out, _, code = s.run("", "instance", "redeploy", "web", "--last-known")
	s.Equal(0, code, out)
	s.Contains(out, "redeploy: 2 succeeded")
	s.Contains(out, "web@7044")
	unit, ok := s.systemd.Unit("onetime-web@7044.service")
	s.Require().True(ok)
	s.True(unit.Active)
}

func (s *ManagerSuite) TestImageAliases() {
	out, _, code := s.run("", "image", "rollback")
	s.Equal(commands.ExitFailure, code)
	s.Empty(out)

	out, _, code = s.run("", "image", "set-current", "v1")
	s.Equal(0, code)
	s.Contains(out, "ghcr.io/onetimesecret/onetimesecret:v1")

	out, _, code = s.run("", "image", "set-current", "v2")
	s.Equal(0, code)
	s.Contains(out, "ROLLBACK ghcr.io/onetimesecret/onetimesecret:v1")

	out, _, code = s.run("", "image", "rollback")
	s.Equal(0, code)
	s.Contains(out, "CURRENT ghcr.io/onetimesecret/onetimesecret:v1")

	out, _, code = s.run("", "image", "aliases")
	s.Equal(0, code)
	s.Contains(out, "CURRENT")
	s.Contains(out, "ROLLBACK")
}
