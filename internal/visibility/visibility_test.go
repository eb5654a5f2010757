package visibility

import "testing"

func u64p(v uint64) *uint64 { return &v }

func TestFull_EverythingVisible(t *testing.T) {
	c := Full()
	for _, addr := range []uint64{0, 0x1000, 0xffffffffffffffff} {
		if !c.IsVisible(addr) {
			t.Fatalf("Full() must show every address, hid 0x%x", addr)
		}
	}
}

func TestHarness_OnlyShowsItsLoadRegion(t *testing.T) {
	c := Harness()
	if !c.IsVisible(HarnessLoadAddress) {
		t.Fatal("harness load address must be visible")
	}
	if !c.IsVisible(HarnessLoadAddress + 0x10) {
		t.Fatal("addresses within the harness's loaded region must be visible")
	}
	if c.IsVisible(0x7f0000000000) {
		t.Fatal("addresses well outside the harness region must be hidden")
	}
}

func TestIsVisible_HiddenFilterExcludesMatchingAddress(t *testing.T) {
	c := Configuration{HiddenAddress: u64p(0x400000)}
	if c.IsVisible(0x400000) {
		t.Fatal("an address matching hidden_address under the default mask must be hidden")
	}
	if !c.IsVisible(0x500000) {
		t.Fatal("a non-matching address must remain visible")
	}
}

func TestIsVisible_HiddenFilterUsesExplicitMask(t *testing.T) {
	c := Configuration{HiddenAddress: u64p(0x400000), HiddenMask: u64p(0xFFFFFFFFFFFFFFFF)}
	if !c.IsVisible(0x400001) {
		t.Fatal("a tighter explicit mask must not match an address that only matched under DefaultMask")
	}
}

func TestIsVisible_VisibleFilterRestrictsToMatchingAddress(t *testing.T) {
	c := Configuration{VisibleAddress: u64p(0x13370000), VisibleMask: u64p(0xFFFF0000)}
	if !c.IsVisible(0x1337abcd) {
		t.Fatal("an address within the visible region must be shown")
	}
	if c.IsVisible(0x99990000) {
		t.Fatal("an address outside the visible region must be hidden")
	}
}

func TestIsVisible_HiddenTakesPrecedenceOverVisible(t *testing.T) {
	c := Configuration{
		VisibleAddress: u64p(0x13370000), VisibleMask: u64p(0xFFFF0000),
		HiddenAddress: u64p(0x13370000), HiddenMask: u64p(0xFFFF0000),
	}
	if c.IsVisible(0x13370001) {
		t.Fatal("hidden filter must suppress an address even if the visible filter would otherwise allow it")
	}
}

func TestIsVisible_EnablingAFilterNeverAddsVisibility(t *testing.T) {
	samples := []uint64{0, 0x1000, 0x400000, 0x13370000, 0x1337abcd, 0x7f0000000000, 0xffffffffffffffff}

	base := Full()
	withHidden := Configuration{HiddenAddress: u64p(0x13370000)}
	withVisible := Configuration{VisibleAddress: u64p(0x13370000)}

	for _, addr := range samples {
		if withHidden.IsVisible(addr) && !base.IsVisible(addr) {
			t.Fatalf("enabling the hidden pair revealed 0x%x", addr)
		}
		if withVisible.IsVisible(addr) && !base.IsVisible(addr) {
			t.Fatalf("enabling the visible pair revealed 0x%x", addr)
		}
	}

	if withHidden.IsVisible(0x13370000) {
		t.Fatal("the hidden pair must actually hide its own region")
	}
	if withVisible.IsVisible(0x400000) {
		t.Fatal("the visible pair must actually hide everything outside its region")
	}
}
