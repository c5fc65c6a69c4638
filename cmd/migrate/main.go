package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"rule_trader/internal/store"
	"rule_trader/pkg/db"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultConfigName = "values_local"

// migrate применяет схему движка к базе из configs/<CONFIG_FILE>, DATABASE_DSN перекрывает файл.
func main() {
	_ = godotenv.Load()

	name := os.Getenv("CONFIG_FILE")
	if name == "" {
		name = defaultConfigName
	}
	viper.SetConfigName(strings.TrimSuffix(name, ".yaml"))
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	if err := viper.BindEnv("db_dsn", "DATABASE_DSN"); err != nil {
		panic(err)
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	dsn := viper.GetString("db_dsn")
	if dsn == "" {
		panic("has no db_dsn in config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn, MaxConns: 1})
	if err != nil {
		panic(fmt.Errorf("connect: %w", err))
	}
	tx := db.NewPgTxManager(pool)
	defer tx.Close()

	if err := store.Migrate(ctx, tx.Conn(ctx)); err != nil {
		panic(fmt.Errorf("migrate: %w", err))
	}
	fmt.Println("migrations applied")
}
