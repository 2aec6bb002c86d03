// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Brings publisher sources to the published track rate
package resample

// Resampler performs linear interpolation to convert between sample rates.
// State carries across calls so consecutive chunks join without clicks.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64 // read position in the virtual input of the current call
	last       []int16 // final frame of the previous chunk
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		last:       make([]int16, channels),
	}
}

// Resample converts interleaved input at inputRate into output at outputRate
// and returns the number of output samples written.
func (r *Resampler) Resample(input []int16, output []int16) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}
	outputFrames := len(output) / r.channels

	// The previous chunk's final frame sits in front of this one
	offset := 0
	if r.primed {
		offset = 1
	}
	virtualFrames := inputFrames + offset

	sample := func(frame, ch int) float64 {
		if frame < offset {
			return float64(r.last[ch])
		}
		return float64(input[(frame-offset)*r.channels+ch])
	}

	outIdx := 0
	for outIdx < outputFrames {
		idx := int(r.position)
		if idx+1 >= virtualFrames {
			break
		}
		frac := r.position - float64(idx)

		for ch := 0; ch < r.channels; ch++ {
			v := sample(idx, ch)*(1.0-frac) + sample(idx+1, ch)*frac
			output[outIdx*r.channels+ch] = int16(v)
		}

		outIdx++
		r.position += r.ratio
	}

	// Rebase so the next call's first frame is this call's last frame
	r.position -= float64(virtualFrames - 1)
	if r.position < 0 {
		r.position = 0
	}
	copy(r.last, input[(inputFrames-1)*r.channels:])
	r.primed = true

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	clear(r.last)
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
