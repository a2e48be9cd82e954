// meshctl — инструмент командной строки для mesh-orchestrator.
//
// Использование:
//
//	meshctl [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	plan  Проверка и создание планов
//	run   Запуск и управление runs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/meshflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
