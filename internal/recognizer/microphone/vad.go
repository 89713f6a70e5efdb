package microphone

import "math"

// rmsVAD is an energy-based voice activity detector with hysteresis.
type rmsVAD struct {
	speechThreshold  float64 // RMS level to start speech
	silenceThreshold float64 // RMS level to end speech
	speechFrames     int     // consecutive speech frames needed to trigger
	silenceFrames    int     // consecutive silence frames needed to end
	inSpeech         bool
	speechCount      int
	silenceCount     int
}

func newVAD(speech, silence float64, silenceFrames int) *rmsVAD {
	if speech <= 0 {
		speech = 0.015
	}
	if silence <= 0 || silence > speech {
		silence = speech / 2
	}
	if silenceFrames <= 0 {
		silenceFrames = 30
	}
	return &rmsVAD{
		speechThreshold:  speech,
		silenceThreshold: silence,
		speechFrames:     3,
		silenceFrames:    silenceFrames,
	}
}

// isSpeech feeds one frame and reports whether the detector is in speech.
func (v *rmsVAD) isSpeech(pcm []int16) bool {
	level := rms(pcm)

	if v.inSpeech {
		if level < v.silenceThreshold {
			v.silenceCount++
			if v.silenceCount >= v.silenceFrames {
				v.inSpeech = false
				v.silenceCount = 0
			}
		} else {
			v.silenceCount = 0
		}
		return v.inSpeech
	}

	if level >= v.speechThreshold {
		v.speechCount++
		if v.speechCount >= v.speechFrames {
			v.inSpeech = true
			v.speechCount = 0
		}
	} else {
		v.speechCount = 0
	}
	return v.inSpeech
}

func (v *rmsVAD) reset() {
	v.inSpeech = false
	v.speechCount = 0
	v.silenceCount = 0
}

// rms returns the root mean square of the frame normalized to [0, 1].
func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
