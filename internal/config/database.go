package config

// Database connection configuration, populated by LoadConfig.
var (
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// loadDatabaseConfig loads the PostgreSQL connection settings.
func loadDatabaseConfig() error {
	var err error

	DBHost, err = getEnv("CVM_DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsInt("CVM_DB_PORT")
	if err != nil {
		return err
	}

	DBUser, err = getEnv("CVM_DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("CVM_DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("CVM_DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("CVM_DB_SSLMODE")
	if err != nil {
		return err
	}

	return nil
}
