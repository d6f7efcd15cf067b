package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tpodg/ipsettle/internal/config"
	"github.com/tpodg/ipsettle/internal/session"
	"github.com/tpodg/ipsettle/internal/testutils"
)

func TestVerifyHosts_Integration(t *testing.T) {
	ctx := context.Background()
	sshC := testutils.SetupSSHContainer(t, ctx)
	defer sshC.Container.Terminate(ctx)

	// Wait a bit for the SSH server to be fully ready
	time.Sleep(2 * time.Second)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m := session.NewManager(logger)
	defer m.CloseAll()

	hosts := []config.HostConfig{{
		Name:           "integration-host",
		Address:        sshC.Address,
		User:           config.UserConfig{Name: sshC.User, SSHKey: sshC.KeyPath},
		KnownHostsPath: sshC.KnownHostsPath,
	}}

	if failed := verifyHosts(ctx, logger, m, hosts); failed != 0 {
		t.Fatalf("verifyHosts() failed for %d host(s):\n%s", failed, buf.String())
	}

	output := buf.String()
	if !strings.Contains(output, "Verification successful") {
		t.Errorf("expected logs to contain 'Verification successful', got:\n%s", output)
	}
	if !strings.Contains(output, "host=integration-host") {
		t.Errorf("expected logs to contain 'host=integration-host', got:\n%s", output)
	}
}

func TestVerifyHosts_PasswordIntegration(t *testing.T) {
	ctx := context.Background()
	sshC := testutils.SetupSSHContainer(t, ctx)
	defer sshC.Container.Terminate(ctx)

	time.Sleep(2 * time.Second)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m := session.NewManager(logger)
	defer m.CloseAll()

	noAgent := false
	hosts := []config.HostConfig{{
		Name:           "password-host",
		Address:        sshC.Address,
		User:           config.UserConfig{Name: sshC.User, Password: sshC.Password},
		KnownHostsPath: sshC.KnownHostsPath,
		UseAgent:       &noAgent,
	}}

	if failed := verifyHosts(ctx, logger, m, hosts); failed != 0 {
		t.Fatalf("verifyHosts() failed for %d host(s):\n%s", failed, buf.String())
	}
}
