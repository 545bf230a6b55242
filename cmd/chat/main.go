// Package main implements a terminal chat client for the OBi-2
// diagnostic pipeline. It wires the orchestrator directly, without the
// HTTP server, which makes it handy for trying prompts and lexicon
// entries locally.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/autologic-mx/obi2/engine/catalog"
	"github.com/autologic-mx/obi2/engine/diagnose"
	"github.com/autologic-mx/obi2/engine/provider"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	providerURL := envOr("DIAGNOSIS_URL", "http://localhost:9090")
	storeToken := envOr("STORE_TOKEN", "")

	store := catalog.New(catalog.Config{AccessToken: storeToken, Logger: logger})
	orch := diagnose.New(diagnose.Config{
		Provider: provider.NewClient(providerURL, logger),
		Matcher:  catalog.NewMatcher(store, logger),
		Cart:     store,
		Log:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := diagnose.NewSession("local", envOr("USER_ID", "local"))
	greeting := orch.Greet(session)
	fmt.Println("OBi-2 | escribe tu mensaje, /code P0300 para agregar un código, /reset para empezar de nuevo, /salir para terminar")
	fmt.Println()
	fmt.Println("obi-2> " + greeting.Content)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\ntú> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/salir" || line == "/exit":
			return
		case line == "/reset":
			orch.Reset(ctx, session)
			fmt.Println("obi-2> " + orch.Greet(session).Content)
			continue
		case strings.HasPrefix(line, "/code "):
			code := strings.TrimSpace(strings.TrimPrefix(line, "/code "))
			if err := session.AddOBDCode(code); err != nil {
				fmt.Println("obi-2> Ese código no es válido o ya está registrado:", code)
			} else {
				fmt.Println("obi-2> Código registrado:", strings.ToUpper(code))
			}
			continue
		}

		result, err := orch.Turn(ctx, session, line)
		if err != nil {
			fmt.Println("obi-2> No pude procesar el mensaje:", err)
			continue
		}
		for _, msg := range result.Messages {
			fmt.Println("obi-2> " + msg.Content)
		}
		if result.Severity != "" && result.Severity != "none" {
			fmt.Println("       [severidad: " + string(result.Severity) + "]")
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
