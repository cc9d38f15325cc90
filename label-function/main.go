package main

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"tasksync/api"
	"tasksync/config"
	"tasksync/labeler"
)

func main() {
	config.Load()
	vals, err := config.Require("OPENAI_API_KEY")
	if err != nil {
		log.Fatal(err)
	}
	gen := labeler.NewOpenAI(vals["OPENAI_API_KEY"])
	if base := config.String("OPENAI_BASE_URL", ""); base != "" {
		gen = gen.WithBaseURL(base)
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	api.RegisterLabelFunction(e, gen, config.Duration("LABEL_TIMEOUT", 15*time.Second))

	listenAddr := ":" + config.String("LABEL_FUNCTION_PORT", "8081")
	if val := config.String("FUNCTIONS_CUSTOMHANDLER_PORT", ""); val != "" {
		listenAddr = ":" + val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}
