// Package ledmap locates a single lit LED in camera frames.
//
// A base frame, taken with every LED off, is converted to grayscale and blurred
// once. Each following frame gets the same treatment, the base is subtracted, and
// the brightness-weighted centroid of the pixels brighter than half the peak
// difference is reported as the LED position.
//
// Kernel implements executor.Kernel, so a FramePool can spread the frames over
// several executors while building the blurred base only once.
package ledmap
