// File: internal/store/store.go

// Package store persists extracted fine records to PostgreSQL. Records are
// keyed by RENAINF number; re-scraping the same fine updates the row
// instead of duplicating it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/extract"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL fines repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a Store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const sqlCreateFines = `
	CREATE TABLE IF NOT EXISTS fines (
		renainf TEXT PRIMARY KEY,
		vehicle_plate TEXT NOT NULL,
		orgao_autuador TEXT,
		orgao_competente TEXT,
		local_infracao TEXT,
		data_hora_cometimento TEXT,
		numero_auto TEXT,
		codigo_infracao TEXT,
		numero_renainf TEXT,
		valor_original TEXT,
		data_notificacao_autuacao TEXT,
		data_limite_defesa_previa TEXT,
		data_limite_identificacao_condutor TEXT,
		data_notificacao_penalidade TEXT,
		data_limite_recurso TEXT,
		data_vencimento_desconto TEXT,
		scraped_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

const sqlCreatePlateIndex = `
	CREATE INDEX IF NOT EXISTS fines_vehicle_plate_idx ON fines (vehicle_plate);
`

// EnsureSchema creates the fines table and its indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateFines); err != nil {
		return fmt.Errorf("failed to create fines table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlCreatePlateIndex); err != nil {
		return fmt.Errorf("failed to create plate index: %w", err)
	}
	s.log.Info("Schema ensured")
	return nil
}

const sqlUpsertFine = `
	INSERT INTO fines (
		renainf, vehicle_plate, orgao_autuador, orgao_competente,
		local_infracao, data_hora_cometimento, numero_auto, codigo_infracao,
		numero_renainf, valor_original, data_notificacao_autuacao,
		data_limite_defesa_previa, data_limite_identificacao_condutor,
		data_notificacao_penalidade, data_limite_recurso,
		data_vencimento_desconto, scraped_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (renainf) DO UPDATE SET
		vehicle_plate = EXCLUDED.vehicle_plate,
		orgao_autuador = EXCLUDED.orgao_autuador,
		orgao_competente = EXCLUDED.orgao_competente,
		local_infracao = EXCLUDED.local_infracao,
		data_hora_cometimento = EXCLUDED.data_hora_cometimento,
		numero_auto = EXCLUDED.numero_auto,
		codigo_infracao = EXCLUDED.codigo_infracao,
		numero_renainf = EXCLUDED.numero_renainf,
		valor_original = EXCLUDED.valor_original,
		data_notificacao_autuacao = EXCLUDED.data_notificacao_autuacao,
		data_limite_defesa_previa = EXCLUDED.data_limite_defesa_previa,
		data_limite_identificacao_condutor = EXCLUDED.data_limite_identificacao_condutor,
		data_notificacao_penalidade = EXCLUDED.data_notificacao_penalidade,
		data_limite_recurso = EXCLUDED.data_limite_recurso,
		data_vencimento_desconto = EXCLUDED.data_vencimento_desconto,
		scraped_at = EXCLUDED.scraped_at,
		updated_at = now();
`

// SaveFines upserts a batch of records in one transaction and returns how
// many rows landed. A record without a RENAINF key is skipped, not fatal.
func (s *Store) SaveFines(ctx context.Context, records []extract.FineRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	saved := 0
	for _, r := range records {
		if r.Renainf == "" {
			s.log.Warn("Record without key skipped", zap.String("plate", r.VehiclePlate))
			continue
		}
		_, err := tx.Exec(ctx, sqlUpsertFine,
			r.Renainf, r.VehiclePlate, r.OrgaoAutuador, r.OrgaoCompetente,
			r.LocalInfracao, r.DataHoraCometimento, r.NumeroAuto, r.CodigoInfracao,
			r.NumeroRenainf, r.ValorOriginal, r.DataNotificacaoAutuacao,
			r.DataLimiteDefesaPrevia, r.DataLimiteIdentificacao,
			r.DataNotificacaoPenalidade, r.DataLimiteRecurso,
			r.DataVencimentoDesconto, r.ScrapedAt.UTC(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert fine %s: %w", r.Renainf, err)
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Fines saved", zap.Int("saved", saved), zap.Int("batch", len(records)))
	return saved, nil
}

const sqlFinesByVehicle = `
	SELECT renainf, vehicle_plate, orgao_autuador, orgao_competente,
		local_infracao, data_hora_cometimento, numero_auto, codigo_infracao,
		numero_renainf, valor_original, data_notificacao_autuacao,
		data_limite_defesa_previa, data_limite_identificacao_condutor,
		data_notificacao_penalidade, data_limite_recurso,
		data_vencimento_desconto, scraped_at
	FROM fines
	WHERE vehicle_plate = $1
	ORDER BY scraped_at DESC, renainf ASC;
`

// GetFinesByVehicle returns every stored fine for a plate.
func (s *Store) GetFinesByVehicle(ctx context.Context, plate string) ([]extract.FineRecord, error) {
	rows, err := s.pool.Query(ctx, sqlFinesByVehicle, plate)
	if err != nil {
		return nil, fmt.Errorf("failed to query fines: %w", err)
	}
	defer rows.Close()

	var records []extract.FineRecord
	for rows.Next() {
		var r extract.FineRecord
		err := rows.Scan(
			&r.Renainf, &r.VehiclePlate, &r.OrgaoAutuador, &r.OrgaoCompetente,
			&r.LocalInfracao, &r.DataHoraCometimento, &r.NumeroAuto, &r.CodigoInfracao,
			&r.NumeroRenainf, &r.ValorOriginal, &r.DataNotificacaoAutuacao,
			&r.DataLimiteDefesaPrevia, &r.DataLimiteIdentificacao,
			&r.DataNotificacaoPenalidade, &r.DataLimiteRecurso,
			&r.DataVencimentoDesconto, &r.ScrapedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fine row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Statistics summarizes the stored data set.
type Statistics struct {
	TotalFines    int
	TotalVehicles int
}

const sqlStatistics = `
	SELECT COUNT(*), COUNT(DISTINCT vehicle_plate) FROM fines;
`

// GetStatistics returns totals across the fines table.
func (s *Store) GetStatistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	row := s.pool.QueryRow(ctx, sqlStatistics)
	if err := row.Scan(&stats.TotalFines, &stats.TotalVehicles); err != nil {
		return Statistics{}, fmt.Errorf("failed to scan statistics: %w", err)
	}
	return stats, nil
}
