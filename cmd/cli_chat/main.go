package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chat-api/internal/config"
	"chat-api/internal/db"
	"chat-api/internal/llm"
	"chat-api/internal/repository"
	"chat-api/internal/service"
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal(err)
	}

	sessionRepo := repository.NewPgSessionRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)
	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, zap.NewStdLog(logger))

	chatSvc := service.NewChatService(logger, sessionRepo, messageRepo, llmClient, nil, service.ChatConfig{
		DefaultModel: cfg.DefaultModel,
		SystemPrompt: cfg.SystemPrompt,
		ContextLimit: cfg.ContextLimit,
	})

	fmt.Print("Modelo (enter para el default): ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	session, err := chatSvc.CreateSession(ctx, model)
	if err != nil {
		log.Fatalf("crear sesion: %v", err)
	}
	fmt.Printf("Sesion %s con modelo %s\n", session.ID, session.Model)
	fmt.Println("---- Modo Chat (escribe 'salir' para terminar) ----")

	for {
		fmt.Print("Tu > ")
		text, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("leer input: %v", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.EqualFold(text, "salir") || strings.EqualFold(text, "exit") {
			fmt.Println("Saliendo del chat...")
			return
		}

		assistantMsg, updated, err := chatSvc.SendMessage(ctx, session.ID, text, "")
		if err != nil {
			fmt.Printf("error generando respuesta: %v\n", err)
			continue
		}
		fmt.Printf("Asistente > %s\n", assistantMsg.Content)
		fmt.Printf("[tokens=%d costo=%.10f | sesion: tokens=%d costo=%.10f]\n",
			assistantMsg.TotalTokens, assistantMsg.Cost, updated.TotalTokens, updated.TotalCost)
	}
}
