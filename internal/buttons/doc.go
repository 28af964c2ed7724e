// Package buttons turns hardware button edges into gestures and gestures into actions.
//
// A Manager owns one Classifier per bound input line. Classifiers recognize short, double and
// long presses and hand them back to the Manager, which looks up the bound action id and passes
// it to a Dispatcher. The Dispatcher runs at most one action at a time, resolving ids against its
// built-in actions and a Registry that feature modules populate at startup.
package buttons
