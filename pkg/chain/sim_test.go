package chain

import (
	"errors"
	"strings"
	"testing"
)

func TestSimChainLifecycle(t *testing.T) {
	s := NewSim()
	h, err := s.Create(Config{Name: "leakthrough", Operators: []Role{RoleAEC}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	aec, err := s.OperatorByRole(h, RoleAEC)
	if err != nil {
		t.Fatalf("OperatorByRole: %v", err)
	}
	if _, err := s.OperatorByRole(h, RoleTone); !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("OperatorByRole(tone) err = %v", err)
	}
	if err := s.ConnectSource(MicLeft, aec, 0); err != nil {
		t.Fatalf("ConnectSource: %v", err)
	}
	if err := s.ConnectSource(MicLeft, aec, 1); !errors.Is(err, ErrEndpointBusy) {
		t.Errorf("second ConnectSource err = %v", err)
	}
	if err := s.SetParameter(aec, ParamUCID, 11); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	if v, ok := s.Param("leakthrough", RoleAEC, ParamUCID); !ok || v != 11 {
		t.Errorf("Param = %d, %v", v, ok)
	}
	if err := s.Connect(h); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(h); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(h); err != nil {
		t.Fatal(err)
	}
	if err := s.Destroy(h); err != nil {
		t.Fatal(err)
	}
	if len(s.Chains()) != 0 {
		t.Errorf("Chains() = %v after destroy", s.Chains())
	}
	if _, ok := s.Status().Endpoints[string(MicLeft)]; !ok {
		t.Error("endpoint unrouted by destroy")
	}
	if err := s.DisconnectSource(MicLeft); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"chain.create leakthrough",
		"ep.connect mic->leakthrough/aec:0",
		"param leakthrough/aec ucid=11",
		"chain.connect leakthrough",
		"chain.start leakthrough",
		"chain.stop leakthrough",
		"chain.destroy leakthrough",
		"ep.disconnect mic",
	}
	got := s.Journal()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("journal:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestSimFailureInjection(t *testing.T) {
	s := NewSim()
	boom := errors.New("boom")
	s.Fail("anc.enable", boom)
	if err := s.AncEnable(true); !errors.Is(err, boom) {
		t.Fatalf("AncEnable err = %v", err)
	}
	if s.Status().AncOn {
		t.Error("ANC on after failed enable")
	}
	if s.Count("anc.") != 0 {
		t.Error("failed call journaled")
	}
	s.Heal("anc.enable")
	if err := s.AncEnable(true); err != nil {
		t.Fatalf("AncEnable: %v", err)
	}
	if err := s.AncSetPathGain(PathFFB, 99); err != nil {
		t.Fatal(err)
	}
	st := s.Status()
	if !st.AncOn || st.Gains["ffb"] != 99 {
		t.Errorf("status = %+v", st)
	}
}

func TestSimBundles(t *testing.T) {
	s := NewSim()
	a, err := s.LoadBundle("download_anc_tuning.edkcs")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.LoadBundle("download_usb_audio.edkcs")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("bundle handles collide")
	}
	if err := s.UnloadBundle(a); err != nil {
		t.Fatal(err)
	}
	if err := s.UnloadBundle(a); err == nil {
		t.Error("double unload should fail")
	}
	if got := s.Status().Bundles; len(got) != 1 || got[0] != "download_usb_audio.edkcs" {
		t.Errorf("bundles = %v", got)
	}
}
