package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/austa/health-service/api"
	"github.com/austa/health-service/config"
	"github.com/austa/health-service/database"
	"github.com/austa/health-service/middleware"
	"github.com/austa/health-service/models"
	"github.com/austa/health-service/repository"
	"github.com/austa/health-service/services"
	"github.com/austa/health-service/utils"
)

func main() {
	// Load application configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to load configuration: %v", err)
	}

	// Response and question encryption
	key, err := cfg.EncryptionKey()
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to load encryption key: %v", err)
	}
	cipher, err := utils.NewAESCipher(key, cfg.Security.EncryptionKeyID)
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to initialize cipher: %v", err)
	}

	// Initialize database connection
	db, err := database.Init(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to initialize database: %v", err)
	}
	runMigrations(db)

	// Repositories
	questionnaireRepo := repository.NewQuestionnaireRepository(db)
	log.Println("INFO: [Main] Repositories initialized.")

	// Services
	llmService, err := services.NewLLMService(cfg.LLM)
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to initialize LLM service: %v", err)
	}
	riskService := services.NewRiskAssessmentService(llmService, cipher)
	questionnaireService := services.NewQuestionnaireService(questionnaireRepo, llmService, riskService, cipher, cfg.Security)
	log.Println("INFO: [Main] Services initialized.")

	apiHandler := api.NewAPIHandler(questionnaireService)
	log.Println("INFO: [Main] API Handler initialized.")

	r := gin.Default()
	r.SetTrustedProxies(nil)

	r.Use(middleware.Logger())
	r.Use(middleware.Cors())
	log.Println("INFO: [Main] Middlewares registered.")

	apiHandler.RegisterRoutes(r)
	log.Println("INFO: [Main] Routes registered.")

	serverPort := ":" + cfg.Server.Port
	if cfg.Server.Port == "" {
		log.Println("WARN: [Main] Server port not configured, using default :8080.")
		serverPort = ":8080"
	}
	log.Printf("INFO: [Main] Starting server on port %s", serverPort)
	if err := r.Run(serverPort); err != nil {
		log.Fatalf("FATAL: [Main] Server failed to start: %v", err)
	}
}

func runMigrations(db *gorm.DB) {
	log.Println("INFO: [Main] Running database migrations...")
	if err := db.AutoMigrate(&models.Questionnaire{}); err != nil {
		log.Fatalf("FATAL: [Main] Failed to auto-migrate database: %v", err)
	}
	log.Println("INFO: [Main] Database migration completed.")
}
