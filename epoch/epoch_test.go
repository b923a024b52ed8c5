package epoch

import "testing"

func TestNetworkEpochBoundary(t *testing.T) {
	d := Network(300, 300, 6)
	if d.Epoch != 1 {
		t.Fatalf("expected epoch 1 at block 300 with length 300, got %d", d.Epoch)
	}
	if d.BlocksElapsed != 0 {
		t.Fatalf("expected 0 blocks elapsed at exact boundary, got %d", d.BlocksElapsed)
	}
}

func TestNetworkPercentComplete(t *testing.T) {
	d := Network(450, 300, 6)
	if d.Epoch != 1 {
		t.Fatalf("expected epoch 1, got %d", d.Epoch)
	}
	if d.BlocksElapsed != 150 {
		t.Fatalf("expected 150 blocks elapsed, got %d", d.BlocksElapsed)
	}
	if got, want := d.PercentComplete, 0.5; got != want {
		t.Fatalf("percent_complete = %v, want %v", got, want)
	}
}

func TestSubnetSlotOffset(t *testing.T) {
	d := Subnet(1000, 400, 300, 6)
	// blocksSinceStart = 600 -> epoch 2, 0 elapsed
	if d.Epoch != 2 {
		t.Fatalf("expected epoch 2, got %d", d.Epoch)
	}
	if d.BlocksElapsed != 0 {
		t.Fatalf("expected 0 elapsed, got %d", d.BlocksElapsed)
	}
}

func TestSubnetBeforeSlotClamped(t *testing.T) {
	d := Subnet(10, 400, 300, 6)
	if d.Epoch != 0 || d.BlocksElapsed != 0 {
		t.Fatalf("expected clamp to epoch 0, got epoch=%d elapsed=%d", d.Epoch, d.BlocksElapsed)
	}
}

func TestSumIdentitiesHold(t *testing.T) {
	d := Network(733, 300, 6)
	if d.BlocksElapsed+d.BlocksRemaining != d.BlockPerEpoch {
		t.Fatalf("blocks elapsed+remaining must equal block_per_epoch")
	}
	if d.SecondsElapsed+d.SecondsRemaining != d.SecondsPerEpoch {
		t.Fatalf("seconds elapsed+remaining must equal seconds_per_epoch")
	}
}
