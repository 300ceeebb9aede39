// Package ffd implements lattice-based free form deformation of 3D point
// clouds. Points are mapped into the unit reference cube of a (possibly
// skewed) lattice box, displaced by a trivariate tensor-product Bernstein
// interpolation of per-control-point weights, and mapped back.
package ffd
