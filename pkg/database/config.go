package database

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string
}

// LoadEnv reads a .env file into the process environment when one exists.
// Variables already set win over the file.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Failed to read .env file: %v", err)
		}
		return
	}
	log.Println(".env file loaded")
}

func ConfigFromEnv() Config {
	return Config{
		Driver:     GetEnv("DB_DRIVER", DriverPostgres),
		Host:       GetEnv("DB_HOST", "postgres"),
		Port:       GetEnv("DB_PORT", "5432"),
		User:       GetEnv("DB_USER", "program"),
		Password:   GetEnv("DB_PASSWORD", "test"),
		Name:       GetEnv("DB_NAME", "bookshare"),
		SQLitePath: GetEnv("SQLITE_PATH", "bookshare.db"),
	}
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
