package keys

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/database"
	"signalengine/src/model"
	"signalengine/src/repository"
	"signalengine/src/security"
)

func printUsage() {
	fmt.Println("Available commands:")
	fmt.Println("  help                                             Show this help message")
	fmt.Println("  shutdown                                         Exit the CLI")
	fmt.Println("  set_key <username> <exchange> <key> <secret>     Store encrypted credentials for a user")
	fmt.Println("  activate <key_id>                                Enable a stored credential")
	fmt.Println("  deactivate <key_id>                              Disable a stored credential")
	fmt.Println()
}

// Run is the interactive credentials CLI. Keys never travel through the API
// surface; this is the only write path into the api_keys table.
func Run() error {
	config := GetConfig()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	ctx := context.Background()
	apiKeyRepo := repository.NewApiKeyRepository()
	userRepo := repository.NewUserRepository()

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		fmt.Print("cmd> ")

		if !reader.Scan() {
			return reader.Err()
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		switch cmd {
		case "shutdown":
			fmt.Println("Exiting CLI...")
			return nil

		case "help":
			printUsage()

		case "set_key":
			if len(parts) < 5 {
				printUsage()
				continue
			}
			if err := setKey(ctx, userRepo, apiKeyRepo, config.Market, parts[1], parts[2], parts[3], parts[4]); err != nil {
				fmt.Println("error:", err)
			}

		case "activate", "deactivate":
			if len(parts) < 2 {
				printUsage()
				continue
			}
			if err := toggleKey(ctx, apiKeyRepo, parts[1], cmd == "activate"); err != nil {
				fmt.Println("error:", err)
			}

		default:
			printUsage()
		}
	}
}

func setKey(
	ctx context.Context,
	users *repository.UserRepository,
	apiKeys *repository.ApiKeyRepository,
	market, username, exchange, apiKey, apiSecret string,
) error {

	user, err := users.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", username)
	}

	encryptedKey, err := security.EncryptString(apiKey)
	if err != nil {
		return err
	}
	encryptedSecret, err := security.EncryptString(apiSecret)
	if err != nil {
		return err
	}

	key := &model.ApiKey{
		UserID:        user.ID,
		Exchange:      exchange,
		Market:        market,
		APIKeyHash:    encryptedKey,
		APISecretHash: encryptedSecret,
		Active:        true,
	}

	if err := apiKeys.Save(ctx, key); err != nil {
		return err
	}

	fmt.Printf("stored key %d for user %s on %s\n", key.ID, username, exchange)
	return nil
}

func toggleKey(ctx context.Context, apiKeys *repository.ApiKeyRepository, rawID string, active bool) error {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key id %q", rawID)
	}

	key, err := apiKeys.FindByID(ctx, uint(id))
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("key %d not found", id)
	}

	key.Active = active
	if err := apiKeys.Save(ctx, key); err != nil {
		return err
	}

	fmt.Printf("key %d active=%v\n", key.ID, active)
	return nil
}
