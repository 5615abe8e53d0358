package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingPreInvoice(t *testing.T) *PreInvoice {
	t.Helper()
	pi := generatedPreInvoice(t, "540")
	require.NoError(t, pi.MarkPendingValidation("system", ""))
	return pi
}

func TestBlockingEngine_Evaluate(t *testing.T) {
	engine := NewBlockingEngine(DefaultBlockingPolicy())

	t.Run("clean facts apply nothing", func(t *testing.T) {
		pi := pendingPreInvoice(t)

		applied, lifted := engine.Evaluate(pi, BlockingFacts{
			Orders:    []TransportOrder{onTimeOrder(250, 0)},
			Vigilance: &CarrierVigilance{Status: VigilanceStatusValid},
		})

		assert.Zero(t, applied)
		assert.Zero(t, lifted)
		assert.Empty(t, pi.ActiveBlocks())
	})

	t.Run("missing documents apply and lift with the condition", func(t *testing.T) {
		pi := pendingPreInvoice(t)
		order := onTimeOrder(250, 0)
		order.Documents = OrderDocuments{POD: true} // no CMR, no BL

		applied, _ := engine.Evaluate(pi, BlockingFacts{Orders: []TransportOrder{order}})
		assert.Equal(t, 1, applied)
		assert.True(t, pi.HasActiveBlockOfType(BlockMissingDocuments))

		// re-evaluating the same facts does not stack blocks
		applied, lifted := engine.Evaluate(pi, BlockingFacts{Orders: []TransportOrder{order}})
		assert.Zero(t, applied)
		assert.Zero(t, lifted)
		assert.Len(t, pi.ActiveBlocks(), 1)

		// documents supplied: the block is lifted, not deleted
		order.Documents = completeDocs()
		_, lifted = engine.Evaluate(pi, BlockingFacts{Orders: []TransportOrder{order}})
		assert.Equal(t, 1, lifted)
		assert.Empty(t, pi.ActiveBlocks())
		assert.Len(t, pi.Blocks, 1)
		assert.False(t, pi.Blocks[0].Active)
		assert.NotNil(t, pi.Blocks[0].LiftedAt)
	})

	t.Run("e-CMR substitutes for paper CMR", func(t *testing.T) {
		pi := pendingPreInvoice(t)
		order := onTimeOrder(250, 0)
		order.Documents = OrderDocuments{POD: true, ECMR: true, BL: true}

		applied, _ := engine.Evaluate(pi, BlockingFacts{Orders: []TransportOrder{order}})

		assert.Zero(t, applied)
	})

	t.Run("expired vigilance blocks, expiring soon does not", func(t *testing.T) {
		pi := pendingPreInvoice(t)

		applied, _ := engine.Evaluate(pi, BlockingFacts{
			Orders:    []TransportOrder{onTimeOrder(250, 0)},
			Vigilance: &CarrierVigilance{Status: VigilanceStatusExpiringSoon},
		})
		assert.Zero(t, applied)

		applied, _ = engine.Evaluate(pi, BlockingFacts{
			Orders:    []TransportOrder{onTimeOrder(250, 0)},
			Vigilance: &CarrierVigilance{Status: VigilanceStatusExpired},
		})
		assert.Equal(t, 1, applied)
		assert.True(t, pi.HasActiveBlockOfType(BlockVigilance))
	})

	t.Run("non-zero pallet balance blocks until settled", func(t *testing.T) {
		pi := pendingPreInvoice(t)

		applied, _ := engine.Evaluate(pi, BlockingFacts{PalletBalance: -12})
		assert.Equal(t, 1, applied)
		assert.True(t, pi.HasActiveBlockOfType(BlockPallets))

		_, lifted := engine.Evaluate(pi, BlockingFacts{PalletBalance: 0})
		assert.Equal(t, 1, lifted)
		assert.False(t, pi.HasActiveBlockOfType(BlockPallets))
	})

	t.Run("lateness beyond threshold blocks unless justified", func(t *testing.T) {
		pi := pendingPreInvoice(t)
		order := onTimeOrder(250, 0)
		order.DeliveredAt = order.PlannedDeliveryAt.Add(30 * time.Hour)

		applied, _ := engine.Evaluate(pi, BlockingFacts{Orders: []TransportOrder{order}})
		assert.Equal(t, 1, applied)
		assert.True(t, pi.HasActiveBlockOfType(BlockLate))

		order.DelayJustified = true
		_, lifted := engine.Evaluate(pi, BlockingFacts{Orders: []TransportOrder{order}})
		assert.Equal(t, 1, lifted)
		assert.False(t, pi.HasActiveBlockOfType(BlockLate))
	})

	t.Run("manual blocks are never auto-lifted", func(t *testing.T) {
		pi := pendingPreInvoice(t)
		_, err := pi.ApplyBlock(BlockManual, "quality review", "ops@freightbill.io", nil)
		require.NoError(t, err)

		_, lifted := engine.Evaluate(pi, BlockingFacts{
			Orders:    []TransportOrder{onTimeOrder(250, 0)},
			Vigilance: &CarrierVigilance{Status: VigilanceStatusValid},
		})

		assert.Zero(t, lifted)
		assert.True(t, pi.HasActiveBlockOfType(BlockManual))
	})
}

func TestBlock_Lift(t *testing.T) {
	pi := pendingPreInvoice(t)
	block, err := pi.ApplyBlock(BlockManual, "quality review", "ops@freightbill.io", map[string]string{"ticket": "QR-42"})
	require.NoError(t, err)

	t.Run("duplicate active block of a type is rejected", func(t *testing.T) {
		_, err := pi.ApplyBlock(BlockManual, "again", "ops@freightbill.io", nil)
		assert.Error(t, err)
	})

	t.Run("lift keeps history", func(t *testing.T) {
		require.NoError(t, pi.LiftBlock(block.ID, "ops@freightbill.io", "review passed"))

		assert.Len(t, pi.Blocks, 1)
		assert.False(t, pi.Blocks[0].Active)
		assert.Equal(t, "review passed", pi.Blocks[0].LiftReason)
	})

	t.Run("lifting twice is rejected", func(t *testing.T) {
		assert.Error(t, pi.LiftBlock(block.ID, "ops@freightbill.io", "again"))
	})
}
