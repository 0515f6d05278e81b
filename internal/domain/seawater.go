package domain

import "math"

// EOS-80 equation of state (UNESCO 1983) with temperatures on the ITS-90 scale.
// Pressures are in decibars, salinity in PSS-78, depth in meters.

// Pressure converts depth to pressure using Saunders (1981).
func Pressure(depth, lat float64) float64 {
	x := math.Sin(math.Abs(lat) * math.Pi / 180)
	c1 := 5.92e-3 + x*x*5.25e-3
	return ((1 - c1) - math.Sqrt((1-c1)*(1-c1)-8.84e-6*depth)) / 4.42e-6
}

func t68(t float64) float64 { return t * 1.00024 }

// smow is the density of standard mean ocean water.
func smow(t float64) float64 {
	const (
		a0 = 999.842594
		a1 = 6.793952e-2
		a2 = -9.095290e-3
		a3 = 1.001685e-4
		a4 = -1.120083e-6
		a5 = 6.536332e-9
	)
	T := t68(t)
	return a0 + (a1+(a2+(a3+(a4+a5*T)*T)*T)*T)*T
}

// Density0 is the density of seawater at atmospheric pressure.
func Density0(s, t float64) float64 {
	const (
		b0 = 8.24493e-1
		b1 = -4.0899e-3
		b2 = 7.6438e-5
		b3 = -8.2467e-7
		b4 = 5.3875e-9

		c0 = -5.72466e-3
		c1 = 1.0227e-4
		c2 = -1.6546e-6

		d0 = 4.8314e-4
	)
	T := t68(t)
	return smow(t) +
		(b0+(b1+(b2+(b3+b4*T)*T)*T)*T)*s +
		(c0+(c1+c2*T)*T)*s*math.Sqrt(s) +
		d0*s*s
}

// secantBulkModulus returns K(S, T, P) with P in decibars.
func secantBulkModulus(s, t, p float64) float64 {
	p /= 10 // bars
	T := t68(t)
	sr := math.Sqrt(s)

	aw := 3.239908 + (1.43713e-3+(1.16092e-4-5.77905e-7*T)*T)*T
	bw := 8.50935e-5 + (-6.12293e-6+5.2787e-8*T)*T
	kw := 19652.21 + (148.4206+(-2.327105+(1.360477e-2-5.155288e-5*T)*T)*T)*T

	a := aw + (2.2838e-3+(-1.0981e-5-1.6078e-6*T)*T+1.91075e-4*sr)*s
	b := bw + (-9.9348e-7+(2.0816e-8+9.1697e-10*T)*T)*s
	k0 := kw + (54.6746+(-0.603459+(1.09987e-2-6.1670e-5*T)*T)*T+
		(7.944e-2+(1.6483e-2-5.3009e-4*T)*T)*sr)*s

	return k0 + (a+b*p)*p
}

// Density is the in situ density of seawater in kg m-3.
func Density(s, t, p float64) float64 {
	k := secantBulkModulus(s, t, p)
	return Density0(s, t) / (1 - (p/10)/k)
}

// SigmaT is in situ density minus 1000 at the pressure of the given depth.
func SigmaT(s, t, depth, lat float64) float64 {
	return Density(s, t, Pressure(depth, lat)) - 1000
}

var spiceCoeffs = [6][5]float64{
	{0, 7.7442e-01, -5.85e-03, -9.84e-04, -2.06e-04},
	{5.1655e-02, 2.034e-03, -2.742e-04, -8.5e-06, 1.36e-05},
	{6.64783e-03, -2.4681e-04, -1.428e-05, 3.337e-05, 7.894e-06},
	{-5.4023e-05, 7.326e-06, 7.0036e-06, -3.0412e-06, -1.0853e-06},
	{3.949e-07, -3.029e-08, -3.8209e-07, 1.0012e-07, 4.7133e-08},
	{-6.36e-10, -1.309e-09, 6.048e-09, -1.1409e-09, -6.676e-10},
}

// Spiciness is the Flament (2002) state variable.
func Spiciness(t, s float64) float64 {
	ds := s - 35
	var sp float64
	ti := 1.0
	for i := range spiceCoeffs {
		sj := 1.0
		for j := range spiceCoeffs[i] {
			sp += spiceCoeffs[i][j] * ti * sj
			sj *= ds
		}
		ti *= t
	}
	return sp
}

// ChlorophyllFromFluorescence converts uncorrected 700 nm fluorescence to a
// chlorophyll estimate in ug/l.
func ChlorophyllFromFluorescence(fl700 float64) float64 {
	return 3.4431e3 * fl700
}
