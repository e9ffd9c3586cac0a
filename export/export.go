// Package export writes the bids of a session as flat CSV records for analysis.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/cloudx-io/slotauction/core"
	"github.com/cloudx-io/slotauction/storage/sqlite"
)

// Header names the exported columns.
var Header = []string{
	"session_code",
	"participant_code",
	"participant_role",
	"participant_treatment",
	"group_round",
	"group_id",
	"group_duration",
	"player_id",
	"player_valuations",
	"bid_timestamp",
	"bid_slots",
	"bid_price",
	"bid_valuation",
}

// Source reads the persisted records of a session.
type Source interface {
	ListGroups(ctx context.Context, sessionCode string) ([]*sqlite.GroupRecord, error)
	ListPlayers(ctx context.Context, group core.GroupID) ([]*sqlite.PlayerRecord, error)
	ForPlayer(ctx context.Context, group core.GroupID, player core.PlayerID) ([]core.Bid, error)
}

// Write exports every player of the session. Each player gets one row carrying only the
// valuations, followed by one row per bid in submission order. Durations and timestamps are
// in milliseconds.
func Write(ctx context.Context, w io.Writer, src Source, sessionCode string) error {
	out := csv.NewWriter(w)
	if err := out.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	groups, err := src.ListGroups(ctx, sessionCode)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	for _, g := range groups {
		players, err := src.ListPlayers(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("list players of group %d: %w", g.ID, err)
		}

		for _, p := range players {
			valuations, err := json.Marshal(p.Valuations.Ordered(g.Slots.GlobalSlots, g.Slots.LocalSlots))
			if err != nil {
				return fmt.Errorf("marshal valuations: %w", err)
			}

			prefix := []string{
				sessionCode,
				p.ParticipantCode,
				string(p.Role),
				g.Treatment.String(),
				strconv.Itoa(g.Round),
				strconv.FormatInt(int64(g.ID), 10),
				strconv.FormatInt(g.DurationFinal.Milliseconds(), 10),
				strconv.Itoa(int(p.Player)),
				string(valuations),
			}

			if err := out.Write(append(prefix, "", "", "", "")); err != nil {
				return fmt.Errorf("write row: %w", err)
			}

			bids, err := src.ForPlayer(ctx, g.ID, p.Player)
			if err != nil {
				return fmt.Errorf("bids of player %d in group %d: %w", p.Player, g.ID, err)
			}
			for _, bid := range bids {
				row := append(append([]string(nil), prefix...),
					strconv.FormatInt(bid.Timestamp.Milliseconds(), 10),
					strconv.FormatUint(uint64(bid.Slots), 10),
					bid.Price.String(),
					p.Valuations.Valuation(bid.Slots).String(),
				)
				if err := out.Write(row); err != nil {
					return fmt.Errorf("write row: %w", err)
				}
			}
		}
	}

	out.Flush()
	return out.Error()
}
