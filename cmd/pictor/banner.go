package main

import (
	"fmt"

	"github.com/fatih/color"

	"pictor/internal/config"
)

func printBanner() {
	cyan := color.New(color.FgHiCyan, color.Bold).SprintFunc()
	white := color.New(color.FgWhite).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	cfg := config.AppConfig

	fmt.Println()
	color.New(color.FgHiCyan, color.Bold).Print("PIC")
	color.New(color.FgHiMagenta, color.Bold).Print("TOR")
	fmt.Printf(" %s\n", gray("v"+cfg.App.Version))
	fmt.Println(gray("Image derivative pipeline"))
	fmt.Println()
	fmt.Printf("%s : %s\n", cyan("Environment "), white(cfg.Server.Env))
	fmt.Printf("%s : %s\n", cyan("Upload dir  "), white(cfg.Images.UploadDir))
	fmt.Printf("%s : %s\n", cyan("Database    "), white(cfg.Database.Path))
	fmt.Printf("%s : %s\n", cyan("Resources   "), white(fmt.Sprintf("%d", len(cfg.Resources))))
	fmt.Println()
}
