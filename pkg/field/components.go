package field

// VectorComponent extracts component c of a vector field as a scalar image.
func VectorComponent(vf *VectorField, c int) *Image {
	out := NewImage(vf.size, vf.geom)
	for k, v := range vf.pix {
		out.pix[k] = v[c]
	}
	return out
}

// TensorComponent extracts component c (0 = xx, 1 = xy, 2 = yy) of a
// tensor field as a scalar image.
func TensorComponent(tf *TensorField, c int) *Image {
	out := NewImage(tf.size, tf.geom)
	for k, v := range tf.pix {
		out.pix[k] = v[c]
	}
	return out
}
