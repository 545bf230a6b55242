package domain

import "testing"

func TestValidateOBDCode(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"P0300", "P0300", false},
		{"p0171", "P0171", false},
		{"u1a3f", "U1A3F", false},
		{"C0455", "C0455", false},
		{"b12AB", "B12AB", false},
		{" P0300 ", "P0300", false},
		{"X0300", "", true},
		{"P030", "", true},
		{"P03000", "", true},
		{"P030G", "", true},
		{"", "", true},
		{"0300P", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ValidateOBDCode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateOBDCode(%q) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateOBDCode(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateOBDCode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateYear(t *testing.T) {
	for _, year := range []int{1990, 2018, 2039} {
		if err := ValidateYear(year); err != nil {
			t.Errorf("ValidateYear(%d) = %v, want nil", year, err)
		}
	}
	for _, year := range []int{0, 1989, 2040, -5} {
		if err := ValidateYear(year); err == nil {
			t.Errorf("ValidateYear(%d) = nil, want error", year)
		}
	}
}

func TestVehicleMerge(t *testing.T) {
	base := Vehicle{Make: "Honda", Model: "Civic"}
	merged := base.Merge(Vehicle{Make: "Toyota", Year: 2018})

	if merged.Make != "Honda" {
		t.Errorf("Make = %q, existing field must win", merged.Make)
	}
	if merged.Model != "Civic" {
		t.Errorf("Model = %q, want Civic", merged.Model)
	}
	if merged.Year != 2018 {
		t.Errorf("Year = %d, want 2018", merged.Year)
	}
	if !merged.Complete() {
		t.Error("merged vehicle should be complete")
	}
	if (Vehicle{Make: "Honda"}).Complete() {
		t.Error("make-only vehicle must not be complete")
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := NewValidationError("obdCode", "XYZ", ErrInvalidOBDCode)
	if err.Unwrap() != ErrInvalidOBDCode {
		t.Error("Unwrap should return the sentinel")
	}
	if err.Error() == "" {
		t.Error("Error string should not be empty")
	}
}
