package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// CreateInstanceMeta implements create_instance_meta: it returns
// a freshly minted encounter_id the first time (server_id, instance_id,
// map_id) is seen while not already expired, and created=false on every
// subsequent call for the same still-active instance.
func (a *Adapter) CreateInstanceMeta(ctx context.Context, serverID uint32, startTs uint64, instanceID, mapID uint32) (uint64, bool, error) {
	var encounterID uint64
	err := withRetry(ctx, func() error {
		row := a.pool.QueryRow(ctx, `
			INSERT INTO instance_meta (server_id, start_ts, instance_id, map_id, expired)
			SELECT $1, $2, $3, $4, false
			WHERE NOT EXISTS (
				SELECT 1 FROM instance_meta
				WHERE server_id = $1 AND instance_id = $3 AND map_id = $4 AND expired = false
			)
			RETURNING id`, serverID, startTs, instanceID, mapID)
		return row.Scan(&encounterID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return encounterID, true, nil
}

// FinalizeInstanceMeta implements finalize_instance_meta: idempotent, sets
// end_ts only the first time and always marks expired.
func (a *Adapter) FinalizeInstanceMeta(ctx context.Context, encounterID uint64, endTs uint64) (bool, error) {
	return a.execOK(ctx, `
		UPDATE instance_meta SET end_ts = COALESCE(end_ts, $2), expired = true
		WHERE id = $1`, encounterID, endTs)
}

func (a *Adapter) InsertInstanceRaid(ctx context.Context, encounterID uint64, mapDifficulty uint32) (bool, error) {
	return a.execOK(ctx, `INSERT INTO instance_raid (instance_meta_id, map_difficulty) VALUES ($1, $2)`,
		encounterID, mapDifficulty)
}

func (a *Adapter) InsertInstanceSkirmish(ctx context.Context, encounterID uint64) (bool, error) {
	return a.execOK(ctx, `INSERT INTO instance_skirmish (instance_meta_id) VALUES ($1)`, encounterID)
}

func (a *Adapter) InsertInstanceRatedArena(ctx context.Context, encounterID uint64, teamID1, teamID2 uint32) (bool, error) {
	return a.execOK(ctx, `
		INSERT INTO instance_rated_arena (instance_meta_id, team_id1, team_id2) VALUES ($1, $2, $3)`,
		encounterID, teamID1, teamID2)
}

func (a *Adapter) InsertInstanceBattleground(ctx context.Context, encounterID uint64) (bool, error) {
	return a.execOK(ctx, `INSERT INTO instance_battleground (instance_meta_id) VALUES ($1)`, encounterID)
}

func (a *Adapter) UpdateSkirmishResult(ctx context.Context, encounterID uint64, winner *uint8) (bool, error) {
	return a.execOK(ctx, `UPDATE instance_skirmish SET winner = $2 WHERE instance_meta_id = $1`,
		encounterID, winner)
}

func (a *Adapter) UpdateRatedArenaResult(ctx context.Context, encounterID uint64, winner *uint8, teamChange1, teamChange2 *int32) (bool, error) {
	return a.execOK(ctx, `
		UPDATE instance_rated_arena SET winner = $2, team_change1 = $3, team_change2 = $4
		WHERE instance_meta_id = $1`, encounterID, winner, teamChange1, teamChange2)
}

func (a *Adapter) UpdateBattlegroundResult(ctx context.Context, encounterID uint64, winner *uint8, scoreAlliance, scoreHorde *uint32) (bool, error) {
	return a.execOK(ctx, `
		UPDATE instance_battleground SET winner = $2, score_alliance = $3, score_horde = $4
		WHERE instance_meta_id = $1`, encounterID, winner, scoreAlliance, scoreHorde)
}

// UpsertParticipant implements upsert_participant: insert-or-update-history
// on the unique (instance_meta_id, character_id) pair.
func (a *Adapter) UpsertParticipant(ctx context.Context, encounterID uint64, characterID uint32, historyID *uint32) (bool, error) {
	return a.execOK(ctx, `
		INSERT INTO instance_participants (instance_meta_id, character_id, history_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_meta_id, character_id) DO UPDATE SET history_id = EXCLUDED.history_id`,
		encounterID, characterID, historyID)
}

func (a *Adapter) execOK(ctx context.Context, sql string, args ...any) (bool, error) {
	ok := false
	err := withRetry(ctx, func() error {
		ct, err := a.pool.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		ok = ct.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ActiveInstance is a still-open instance reloaded at shard startup so a
// restarted shard does not treat in-progress encounters as new.
type ActiveInstance struct {
	EncounterID uint64
	ServerID    uint32
	InstanceID  uint32
	MapID       uint32
	EnteredMs   uint64
}

// LoadActiveInstances implements load_active_instances.
func (a *Adapter) LoadActiveInstances(ctx context.Context, serverID uint32) ([]ActiveInstance, error) {
	var out []ActiveInstance
	err := withRetry(ctx, func() error {
		out = out[:0]
		rows, err := a.pool.Query(ctx, `
			SELECT id, server_id, instance_id, map_id, start_ts
			FROM instance_meta WHERE server_id = $1 AND expired = false`, serverID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var inst ActiveInstance
			if err := rows.Scan(&inst.EncounterID, &inst.ServerID, &inst.InstanceID, &inst.MapID, &inst.EnteredMs); err != nil {
				return err
			}
			out = append(out, inst)
		}
		return rows.Err()
	})
	return out, err
}

// InstanceReset is the per-map reset window loaded at shard startup.
type InstanceReset struct {
	Difficulty  uint32
	ResetTimeMs uint64
}

// LoadInstanceResets implements load_instance_resets. The return
// shape matches lifecycle.Manager.LoadInstanceResets's parameter exactly so
// shard wiring can pass it straight through.
func (a *Adapter) LoadInstanceResets(ctx context.Context, serverID uint32) (map[uint32]struct {
	Difficulty  uint32
	ResetTimeMs uint64
}, error) {
	out := make(map[uint32]struct {
		Difficulty  uint32
		ResetTimeMs uint64
	})
	err := withRetry(ctx, func() error {
		rows, err := a.pool.Query(ctx, `
			SELECT map_id, difficulty, reset_time FROM armory_instance_resets WHERE server_id = $1`, serverID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var mapID uint32
			var w struct {
				Difficulty  uint32
				ResetTimeMs uint64
			}
			if err := rows.Scan(&mapID, &w.Difficulty, &w.ResetTimeMs); err != nil {
				return err
			}
			out[mapID] = w
		}
		return rows.Err()
	})
	return out, err
}
