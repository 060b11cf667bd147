package config

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

func InitDB(dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func RunMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS vehiculos (
			id UUID PRIMARY KEY,
			placa VARCHAR(20) UNIQUE NOT NULL,
			marca VARCHAR(100) NOT NULL,
			modelo VARCHAR(100) NOT NULL,
			ano INTEGER NOT NULL,
			color VARCHAR(50),
			propietario VARCHAR(255),
			poliza VARCHAR(100),
			seguro VARCHAR(100),
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS combustible (
			id UUID PRIMARY KEY,
			fecha DATE NOT NULL,
			placa VARCHAR(20) NOT NULL,
			litros NUMERIC(10, 2) NOT NULL DEFAULT 0,
			costo NUMERIC(14, 2),
			kilometraje INTEGER,
			estacion VARCHAR(255),
			created_at TIMESTAMP DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS mantenimientos (
			id UUID PRIMARY KEY,
			fecha DATE NOT NULL,
			placa VARCHAR(20) NOT NULL,
			tipo VARCHAR(100) NOT NULL,
			descripcion TEXT,
			costo NUMERIC(14, 2),
			kilometraje INTEGER,
			created_at TIMESTAMP DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS revisiones (
			id UUID PRIMARY KEY,
			fecha DATE NOT NULL,
			placa VARCHAR(20) NOT NULL,
			inspector VARCHAR(255) NOT NULL,
			estado_motor VARCHAR(50) NOT NULL,
			estado_frenos VARCHAR(50) NOT NULL,
			estado_luces VARCHAR(50) NOT NULL,
			estado_llantas VARCHAR(50) NOT NULL,
			estado_carroceria VARCHAR(50) NOT NULL,
			observaciones TEXT,
			aprobado BOOLEAN NOT NULL,
			created_at TIMESTAMP DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS polizas (
			id UUID PRIMARY KEY,
			numero_poliza VARCHAR(100) UNIQUE NOT NULL,
			placa VARCHAR(20) NOT NULL,
			aseguradora VARCHAR(255) NOT NULL,
			fecha_inicio DATE NOT NULL,
			fecha_vencimiento DATE NOT NULL,
			tipo_cobertura VARCHAR(100) NOT NULL,
			estado VARCHAR(50) NOT NULL DEFAULT 'Activa',
			created_at TIMESTAMP DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_combustible_fecha ON combustible(fecha)`,
		`CREATE INDEX IF NOT EXISTS idx_combustible_placa ON combustible(placa)`,
		`CREATE INDEX IF NOT EXISTS idx_mantenimientos_fecha ON mantenimientos(fecha)`,
		`CREATE INDEX IF NOT EXISTS idx_mantenimientos_placa ON mantenimientos(placa)`,
		`CREATE INDEX IF NOT EXISTS idx_revisiones_fecha ON revisiones(fecha)`,
		`CREATE INDEX IF NOT EXISTS idx_polizas_vencimiento ON polizas(fecha_vencimiento)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}
